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

// Package clusterapi is the thin Kubernetes API seam the rest of the
// reconciliation core talks through, so that pod/node listing and node
// patching can be faked in tests without a live cluster.
package clusterapi

import (
	"context"

	v1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// Client is the cluster surface the observer components depend on.
type Client interface {
	ListPods(ctx context.Context) ([]v1.Pod, error)
	ListNodes(ctx context.Context) ([]v1.Node, error)
	PatchNode(ctx context.Context, name string, patch []byte) error
}

// clientsetClient adapts a client-go Clientset to Client.
type clientsetClient struct {
	clientset kubernetes.Interface
}

// NewInCluster builds a Client from the in-cluster service account, for use
// when running as a pod inside the cluster it manages.
func NewInCluster() (Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, err
	}
	return newFromRESTConfig(cfg)
}

// NewFromKubeconfig builds a Client from a kubeconfig file, for use outside
// the cluster (development, the "external" execution mode).
func NewFromKubeconfig(path string) (Client, error) {
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, err
	}
	return newFromRESTConfig(cfg)
}

func newFromRESTConfig(cfg *rest.Config) (Client, error) {
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &clientsetClient{clientset: clientset}, nil
}

// ListPods returns every pod across all namespaces in the cluster.
func (c *clientsetClient) ListPods(ctx context.Context) ([]v1.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// ListNodes returns every node registered in the cluster.
func (c *clientsetClient) ListNodes(ctx context.Context) ([]v1.Node, error) {
	list, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// PatchNode applies a strategic merge patch to the named node, used to set
// the fleet-manager-state label and termination taints.
func (c *clientsetClient) PatchNode(ctx context.Context, name string, patch []byte) error {
	_, err := c.clientset.CoreV1().Nodes().Patch(
		ctx, name, types.StrategicMergePatchType, patch, metav1.PatchOptions{},
	)
	return err
}
