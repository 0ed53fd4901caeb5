// Copyright 2026 The Wirecall Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvance(t *testing.T) {
	c := Fake(testEpoch)
	if !c.Now().Equal(testEpoch) {
		t.Fatalf("Now() = %v, want %v", c.Now(), testEpoch)
	}
	c.Advance(90 * time.Second)
	want := testEpoch.Add(90 * time.Second)
	if !c.Now().Equal(want) {
		t.Fatalf("Now() after Advance = %v, want %v", c.Now(), want)
	}
}

func TestAfterFuncFiresOnAdvance(t *testing.T) {
	c := Fake(testEpoch)

	var fired atomic.Bool
	c.AfterFunc(time.Minute, func() { fired.Store(true) })

	c.Advance(59 * time.Second)
	if fired.Load() {
		t.Fatal("timer fired before its deadline")
	}
	c.Advance(time.Second)
	if !fired.Load() {
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestAfterFuncStop(t *testing.T) {
	c := Fake(testEpoch)

	var fired atomic.Bool
	timer := c.AfterFunc(time.Minute, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop on a pending timer should return true")
	}
	c.Advance(2 * time.Minute)
	if fired.Load() {
		t.Fatal("stopped timer fired")
	}

	// Stopping again is a safe no-op and reports false.
	if timer.Stop() {
		t.Fatal("second Stop should return false")
	}
}

func TestStopAfterFireIsNoOp(t *testing.T) {
	c := Fake(testEpoch)

	var count atomic.Int32
	timer := c.AfterFunc(time.Second, func() { count.Add(1) })
	c.Advance(time.Second)

	if timer.Stop() {
		t.Fatal("Stop after fire should return false")
	}
	c.Advance(time.Hour)
	if got := count.Load(); got != 1 {
		t.Fatalf("callback ran %d times, want 1", got)
	}
}

func TestAfterFuncImmediateWhenNonPositive(t *testing.T) {
	c := Fake(testEpoch)
	var fired atomic.Bool
	c.AfterFunc(0, func() { fired.Store(true) })
	if !fired.Load() {
		t.Fatal("zero-duration AfterFunc should run synchronously")
	}
}

func TestAdvanceFiresInDeadlineOrder(t *testing.T) {
	c := Fake(testEpoch)

	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
}

func TestAfterChannel(t *testing.T) {
	c := Fake(testEpoch)
	ch := c.After(time.Minute)

	select {
	case <-ch:
		t.Fatal("After channel received before deadline")
	default:
	}

	c.Advance(time.Minute)
	select {
	case fireTime := <-ch:
		if !fireTime.Equal(testEpoch.Add(time.Minute)) {
			t.Fatalf("fire time = %v", fireTime)
		}
	default:
		t.Fatal("After channel did not receive at deadline")
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(testEpoch)

	var fired atomic.Bool
	go c.AfterFunc(time.Second, func() { fired.Store(true) })

	c.WaitForTimers(1)
	c.Advance(time.Second)
	if !fired.Load() {
		t.Fatal("timer registered by goroutine did not fire")
	}
}

func TestPendingCountExcludesStopped(t *testing.T) {
	c := Fake(testEpoch)
	timer := c.AfterFunc(time.Second, func() {})
	c.AfterFunc(2*time.Second, func() {})

	if got := c.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
	timer.Stop()
	if got := c.PendingCount(); got != 1 {
		t.Fatalf("PendingCount after Stop = %d, want 1", got)
	}
}
