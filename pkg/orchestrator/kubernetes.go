package orchestrator

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Kubernetes implements Adapter directly against the API server: cordon
// sets Node.Spec.Unschedulable with a Get and an Update, taints are Node.Spec.Taints
// entries, and eviction goes through the Eviction subresource so PDBs
// are honored.
type Kubernetes struct {
	clientset kubernetes.Interface
}

// NewKubernetes wraps an existing clientset.
func NewKubernetes(clientset kubernetes.Interface) *Kubernetes {
	return &Kubernetes{clientset: clientset}
}

func (k *Kubernetes) Name() string { return "kubernetes" }

func (k *Kubernetes) Cordon(ctx context.Context, nodeName, _ string) error {
	return k.setUnschedulable(ctx, nodeName, true)
}

func (k *Kubernetes) Uncordon(ctx context.Context, nodeName string) error {
	return k.setUnschedulable(ctx, nodeName, false)
}

func (k *Kubernetes) setUnschedulable(ctx context.Context, nodeName string, unschedulable bool) error {
	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}
	if node.Spec.Unschedulable == unschedulable {
		return nil
	}
	node.Spec.Unschedulable = unschedulable
	_, err = k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("update node %s unschedulable=%v: %w", nodeName, unschedulable, err)
	}
	return nil
}

func (k *Kubernetes) AddTaint(ctx context.Context, nodeName, key, value string, effect TaintEffect) error {
	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}

	want := corev1.Taint{Key: key, Value: value, Effect: corev1.TaintEffect(effect)}
	for _, t := range node.Spec.Taints {
		if t.MatchTaint(&want) && t.Value == value {
			return nil
		}
	}

	node.Spec.Taints = append(filterTaintsByKey(node.Spec.Taints, key), want)
	_, err = k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("add taint %s to node %s: %w", key, nodeName, err)
	}
	return nil
}

func (k *Kubernetes) RemoveTaint(ctx context.Context, nodeName, key string) error {
	node, err := k.clientset.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}

	filtered := filterTaintsByKey(node.Spec.Taints, key)
	if len(filtered) == len(node.Spec.Taints) {
		return nil
	}
	node.Spec.Taints = filtered
	_, err = k.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("remove taint %s from node %s: %w", key, nodeName, err)
	}
	return nil
}

func filterTaintsByKey(taints []corev1.Taint, key string) []corev1.Taint {
	out := make([]corev1.Taint, 0, len(taints))
	for _, t := range taints {
		if t.Key != key {
			out = append(out, t)
		}
	}
	return out
}

func (k *Kubernetes) EvictPods(ctx context.Context, nodeName string, predicate PodPredicate) (EvictionResult, error) {
	pods, err := k.clientset.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: "spec.nodeName=" + nodeName,
	})
	if err != nil {
		return EvictionResult{}, fmt.Errorf("list pods on node %s: %w", nodeName, err)
	}

	var result EvictionResult
	for _, pod := range pods.Items {
		if !eligibleForEviction(pod, predicate) {
			result.Skipped++
			continue
		}

		eviction := &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{Name: pod.Name, Namespace: pod.Namespace},
		}
		err := k.clientset.PolicyV1().Evictions(pod.Namespace).Evict(ctx, eviction)
		switch {
		case err == nil:
			result.Evicted++
		case apierrors.IsNotFound(err):
			result.Skipped++
		default:
			result.Errors = append(result.Errors, fmt.Errorf("evict %s/%s: %w", pod.Namespace, pod.Name, err))
		}
	}
	return result, nil
}

func eligibleForEviction(pod corev1.Pod, predicate PodPredicate) bool {
	if predicate.SystemNamespace != "" && pod.Namespace == predicate.SystemNamespace {
		return false
	}
	if predicate.SkipAnnotation != "" {
		if _, ok := pod.Annotations[predicate.SkipAnnotation]; ok {
			return false
		}
	}
	if predicate.SkipDaemonSetPods {
		for _, owner := range pod.OwnerReferences {
			if owner.Kind == "DaemonSet" {
				return false
			}
		}
	}
	return true
}
