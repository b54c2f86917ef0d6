/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package clusterapi

import (
	"context"
	"encoding/json"
	"testing"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestListPodsReturnsEveryNamespace(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&v1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "a"}},
		&v1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: "kube-system", Name: "b"}},
	)
	client := &clientsetClient{clientset: clientset}

	pods, err := client.ListPods(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(pods) != 2 {
		t.Fatalf("expected 2 pods, got %d", len(pods))
	}
}

func TestListNodesReturnsAllNodes(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&v1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-a"}},
	)
	client := &clientsetClient{clientset: clientset}

	nodes, err := client.ListNodes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "node-a" {
		t.Fatalf("unexpected nodes: %+v", nodes)
	}
}

func TestPatchNodeAppliesStrategicMergePatch(t *testing.T) {
	clientset := fake.NewSimpleClientset(
		&v1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-a"}},
	)
	client := &clientsetClient{clientset: clientset}

	patch, _ := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{"labels": map[string]string{"fleet-manager-state": "terminating"}},
	})
	if err := client.PatchNode(context.Background(), "node-a", patch); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	node, err := clientset.CoreV1().Nodes().Get(context.Background(), "node-a", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if node.Labels["fleet-manager-state"] != "terminating" {
		t.Fatalf("expected label to be patched, got %+v", node.Labels)
	}
}
