package services

import "testing"

func TestPointsCost(t *testing.T) {
	cases := []struct {
		months   int
		sessions int
		want     int
	}{
		{1, 1, 5},
		{1, 4, 20},
		{3, 8, 120},
		{12, 4, 240},
	}
	for _, tc := range cases {
		if got := PointsCost(tc.months, tc.sessions); got != tc.want {
			t.Errorf("PointsCost(%d, %d) = %d, want %d", tc.months, tc.sessions, got, tc.want)
		}
	}
}

func TestSplitEarningsSumsToGross(t *testing.T) {
	cases := []struct {
		amount       int64
		wantEarnings int64
		wantFee      int64
	}{
		{0, 0, 0},
		{-100, 0, 0},
		{100, 70, 30},
		{101, 71, 30},
		{1, 1, 0},
		{3, 2, 1},
		{12000, 8400, 3600},
		{9999, 7000, 2999},
	}
	for _, tc := range cases {
		earnings, fee := SplitEarnings(tc.amount)
		if earnings != tc.wantEarnings || fee != tc.wantFee {
			t.Errorf("SplitEarnings(%d) = (%d, %d), want (%d, %d)", tc.amount, earnings, fee, tc.wantEarnings, tc.wantFee)
		}
		if tc.amount > 0 && earnings+fee != tc.amount {
			t.Errorf("SplitEarnings(%d): shares sum to %d", tc.amount, earnings+fee)
		}
	}
}

func TestPointsFromCents(t *testing.T) {
	if got := PointsFromCents(2500); got != 25 {
		t.Fatalf("PointsFromCents(2500) = %d, want 25", got)
	}
	if got := PointsFromCents(199); got != 1 {
		t.Fatalf("PointsFromCents(199) = %d, want 1", got)
	}
	if got := PointsFromCents(0); got != 0 {
		t.Fatalf("PointsFromCents(0) = %d, want 0", got)
	}
}
