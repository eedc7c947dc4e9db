package ring

import (
	"testing"
)

func TestAppendEviction(t *testing.T) {
	type testCase struct {
		capacity int
		appends  int
		expected []int
	}
	tests := []testCase{
		{capacity: 3, appends: 2, expected: []int{1, 2}},
		{capacity: 3, appends: 3, expected: []int{1, 2, 3}},
		{capacity: 3, appends: 5, expected: []int{3, 4, 5}},
		{capacity: 1, appends: 4, expected: []int{4}},
		{capacity: 10, appends: 25, expected: []int{16, 17, 18, 19, 20, 21, 22, 23, 24, 25}},
	}
	for i, test := range tests {
		b := New[int](test.capacity)
		for v := 1; v <= test.appends; v++ {
			b.Append(v)
		}
		got := b.Values()
		if len(got) != len(test.expected) {
			t.Errorf("%d: got %v, expected %v", i, got, test.expected)
			continue
		}
		for j := range got {
			if got[j] != test.expected[j] {
				t.Errorf("%d: got %v, expected %v", i, got, test.expected)
				break
			}
		}
	}
}

func TestAt(t *testing.T) {
	b := New[int](3)
	for v := 1; v <= 5; v++ {
		b.Append(v)
	}
	if b.At(0) != 3 {
		t.Errorf("At(0) = %d, expected 3", b.At(0))
	}
	if b.At(-1) != 5 {
		t.Errorf("At(-1) = %d, expected 5", b.At(-1))
	}
	if b.At(-2) != 4 {
		t.Errorf("At(-2) = %d, expected 4", b.At(-2))
	}
}

func TestClear(t *testing.T) {
	b := New[int](4)
	b.Append(1)
	b.Append(2)
	b.Clear()
	if b.Len() != 0 {
		t.Errorf("Len() = %d after Clear", b.Len())
	}
	b.Append(7)
	if b.At(0) != 7 || b.Len() != 1 {
		t.Errorf("buffer unusable after Clear: %v", b.Values())
	}
}

func TestMean(t *testing.T) {
	b := New[float64](3)
	if Mean(b) != 0 {
		t.Errorf("mean of empty buffer = %f", Mean(b))
	}
	b.Append(0.010)
	b.Append(0.004)
	b.Append(0.002)
	got := Mean(b)
	want := (0.010 + 0.004 + 0.002) / 3
	if got != want {
		t.Errorf("Mean() = %f, expected %f", got, want)
	}
	b.Append(0.002)
	got = Mean(b)
	want = (0.004 + 0.002 + 0.002) / 3
	if got != want {
		t.Errorf("Mean() after eviction = %f, expected %f", got, want)
	}
}
