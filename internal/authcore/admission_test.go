package authcore

import (
	"testing"

	"github.com/webgate-io/webgate/internal/config"
)

func TestAdmission_Disabled(t *testing.T) {
	a := NewAdmission(config.MaxStartups{Begin: 0, Rate: 100, Max: 0})
	a.Begin()
	a.Begin()
	a.Begin()
	if !a.CanStart() {
		t.Error("max=0 should always admit")
	}
}

func TestAdmission_BelowBeginAlwaysAdmits(t *testing.T) {
	a := NewAdmission(config.MaxStartups{Begin: 10, Rate: 30, Max: 100})
	for i := 0; i < 10; i++ {
		a.Begin()
	}
	for i := 0; i < 100; i++ {
		if !a.CanStart() {
			t.Fatalf("startups == begin (10) should always admit")
		}
	}
}

func TestAdmission_AboveMaxNeverAdmits(t *testing.T) {
	a := NewAdmission(config.MaxStartups{Begin: 1, Rate: 30, Max: 5})
	for i := 0; i < 6; i++ {
		a.Begin()
	}
	for i := 0; i < 100; i++ {
		if a.CanStart() {
			t.Fatalf("startups (6) > max (5) should never admit")
		}
	}
}

func TestAdmission_RateOneHundredDropsAboveBegin(t *testing.T) {
	a := NewAdmission(config.MaxStartups{Begin: 1, Rate: 100, Max: 1})
	a.Begin()
	a.Begin()
	if a.CanStart() {
		t.Fatal("rate == 100 with startups above begin should never admit")
	}
}

func TestAdmission_BeginFinishSymmetric(t *testing.T) {
	a := NewAdmission(config.MaxStartups{Begin: 10, Rate: 30, Max: 100})
	before := a.startups.Load()
	a.Begin()
	a.Finish()
	after := a.startups.Load()
	if before != after {
		t.Errorf("startups count not symmetric: before=%d after=%d", before, after)
	}
}

func TestAdmission_ProbabilisticRangeIsMonotone(t *testing.T) {
	// Between begin and max, admission probability should trend down as
	// startups grows, i.e. more attempts admitted near begin than near max
	// across many trials.
	a := NewAdmission(config.MaxStartups{Begin: 1, Rate: 1, Max: 100})

	countAt := func(n int64) int {
		admitted := 0
		for i := 0; i < 2000; i++ {
			a.startups.Store(n)
			if a.CanStart() {
				admitted++
			}
		}
		return admitted
	}

	nearBegin := countAt(5)
	nearMax := countAt(95)
	if nearMax > nearBegin {
		t.Errorf("expected admission rate to decrease as startups approaches max: near-begin=%d near-max=%d", nearBegin, nearMax)
	}
}
