package orchestrator

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestNoopIsAlwaysNil(t *testing.T) {
	n := NewNoop(nil)
	ctx := context.Background()
	if err := n.Cordon(ctx, "node-1", "over_temperature"); err != nil {
		t.Fatalf("Cordon: %v", err)
	}
	if err := n.AddTaint(ctx, "node-1", "nvidia.com/gpu-health", "failed", NoSchedule); err != nil {
		t.Fatalf("AddTaint: %v", err)
	}
	if _, err := n.EvictPods(ctx, "node-1", PodPredicate{}); err != nil {
		t.Fatalf("EvictPods: %v", err)
	}
}

func TestEligibleForEviction(t *testing.T) {
	pod := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   "kube-system",
			Annotations: map[string]string{},
		},
	}
	if eligibleForEviction(pod, PodPredicate{SystemNamespace: "kube-system"}) {
		t.Error("expected system namespace pod to be excluded")
	}

	pod.Namespace = "training"
	pod.OwnerReferences = []metav1.OwnerReference{{Kind: "DaemonSet"}}
	if eligibleForEviction(pod, PodPredicate{SkipDaemonSetPods: true}) {
		t.Error("expected daemonset pod to be excluded")
	}

	pod.OwnerReferences = nil
	pod.Annotations["gdnd.io/skip-eviction"] = "true"
	if eligibleForEviction(pod, PodPredicate{SkipAnnotation: "gdnd.io/skip-eviction"}) {
		t.Error("expected annotated pod to be excluded")
	}

	pod.Annotations = nil
	if !eligibleForEviction(pod, PodPredicate{SystemNamespace: "kube-system", SkipDaemonSetPods: true}) {
		t.Error("expected ordinary pod to be eligible")
	}
}

func TestKubernetesCordonIsIdempotent(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
	})
	k := NewKubernetes(clientset)
	ctx := context.Background()

	if err := k.Cordon(ctx, "node-1", "unhealthy"); err != nil {
		t.Fatalf("Cordon: %v", err)
	}
	if err := k.Cordon(ctx, "node-1", "unhealthy"); err != nil {
		t.Fatalf("second Cordon: %v", err)
	}

	node, _ := clientset.CoreV1().Nodes().Get(ctx, "node-1", metav1.GetOptions{})
	if !node.Spec.Unschedulable {
		t.Fatal("expected node to be unschedulable")
	}
}

func TestKubernetesTaintLifecycle(t *testing.T) {
	clientset := fake.NewSimpleClientset(&corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-1"},
	})
	k := NewKubernetes(clientset)
	ctx := context.Background()

	if err := k.AddTaint(ctx, "node-1", "nvidia.com/gpu-health", "failed", NoSchedule); err != nil {
		t.Fatalf("AddTaint: %v", err)
	}
	if err := k.AddTaint(ctx, "node-1", "nvidia.com/gpu-health", "failed", NoSchedule); err != nil {
		t.Fatalf("second AddTaint: %v", err)
	}

	node, _ := clientset.CoreV1().Nodes().Get(ctx, "node-1", metav1.GetOptions{})
	if len(node.Spec.Taints) != 1 {
		t.Fatalf("got %d taints, want exactly 1 after repeated AddTaint", len(node.Spec.Taints))
	}

	if err := k.RemoveTaint(ctx, "node-1", "nvidia.com/gpu-health"); err != nil {
		t.Fatalf("RemoveTaint: %v", err)
	}
	node, _ = clientset.CoreV1().Nodes().Get(ctx, "node-1", metav1.GetOptions{})
	if len(node.Spec.Taints) != 0 {
		t.Fatalf("got %d taints, want 0 after RemoveTaint", len(node.Spec.Taints))
	}

	if err := k.RemoveTaint(ctx, "node-1", "nvidia.com/gpu-health"); err != nil {
		t.Fatalf("RemoveTaint on already-clean node: %v", err)
	}
}
