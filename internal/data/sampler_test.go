package data

import "testing"

func TestRebalanceLiftsRareLabels(t *testing.T) {
	labels := make([]string, 200)
	for i := range labels {
		if i < 180 {
			labels[i] = "common"
		} else {
			labels[i] = "rare"
		}
	}

	plan := Rebalance(labels, testRand(7))
	if len(plan) != len(labels) {
		t.Fatalf("plan length = %d, want %d", len(plan), len(labels))
	}
	rare := 0
	for _, idx := range plan {
		if idx < 0 || idx >= len(labels) {
			t.Fatalf("plan index %d out of range", idx)
		}
		if labels[idx] == "rare" {
			rare++
		}
	}
	// Inverse-frequency weighting puts each label near half the draws.
	// Without it the rare label would get about 20 of 200.
	if rare < 60 || rare > 140 {
		t.Errorf("rare label drawn %d of %d times, want roughly half", rare, len(plan))
	}
}

func TestRebalanceIsDeterministic(t *testing.T) {
	labels := []string{"a", "a", "a", "b", "b", "c"}
	first := Rebalance(labels, testRand(3))
	second := Rebalance(labels, testRand(3))
	if len(first) != len(second) {
		t.Fatalf("plan lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("plan[%d] = %d vs %d with the same seed", i, first[i], second[i])
		}
	}
}

func TestRebalanceEmpty(t *testing.T) {
	if plan := Rebalance(nil, testRand(1)); len(plan) != 0 {
		t.Errorf("Rebalance(nil) = %v, want empty", plan)
	}
}
