package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	l := NewSlidingWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("user-1") {
			t.Fatalf("вызов %d должен проходить", i+1)
		}
	}
	if l.Allow("user-1") {
		t.Fatalf("четвёртый вызов должен отклоняться")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := NewSlidingWindow(1, time.Minute)
	if !l.Allow("a") {
		t.Fatalf("первый ключ должен проходить")
	}
	if !l.Allow("b") {
		t.Fatalf("лимит одного ключа не должен влиять на другой")
	}
}

func TestWindowSlides(t *testing.T) {
	now := time.Now()
	l := NewSlidingWindow(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("k") || !l.Allow("k") {
		t.Fatalf("первые два вызова должны проходить")
	}
	if l.Allow("k") {
		t.Fatalf("третий вызов в окне должен отклоняться")
	}

	now = now.Add(61 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("после сдвига окна вызов должен проходить")
	}
}

func TestRejectedCallDoesNotExtendWindow(t *testing.T) {
	now := time.Now()
	l := NewSlidingWindow(1, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("k") {
		t.Fatalf("первый вызов должен проходить")
	}
	for i := 0; i < 5; i++ {
		now = now.Add(10 * time.Second)
		l.Allow("k")
	}
	now = now.Add(11 * time.Second)
	if !l.Allow("k") {
		t.Fatalf("отклонённые вызовы не должны продлевать окно")
	}
}
