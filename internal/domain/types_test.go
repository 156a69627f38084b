package domain

import "testing"

func TestParseOrderStatus(t *testing.T) {
	cases := []struct {
		raw    string
		want   OrderStatus
		wantOK bool
	}{
		{raw: "confirmed", want: OrderStatusConfirmed, wantOK: true},
		{raw: " Ready ", want: OrderStatusReady, wantOK: true},
		{raw: "CANCELLED", want: OrderStatusCancelled, wantOK: true},
		{raw: "shipped", wantOK: false},
		{raw: "", wantOK: false},
	}

	for _, tc := range cases {
		got, ok := ParseOrderStatus(tc.raw)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("ParseOrderStatus(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusConfirmed, OrderStatusPreparing}: true,
		{OrderStatusConfirmed, OrderStatusCancelled}: true,
		{OrderStatusPreparing, OrderStatusReady}:     true,
		{OrderStatusPreparing, OrderStatusCancelled}: true,
		{OrderStatusReady, OrderStatusCompleted}:     true,
		{OrderStatusReady, OrderStatusCancelled}:     true,
	}

	statuses := []OrderStatus{
		OrderStatusConfirmed,
		OrderStatusPreparing,
		OrderStatusReady,
		OrderStatusCompleted,
		OrderStatusCancelled,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]OrderStatus{from, to}] || from == to
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(OrderStatusCompleted) || !IsTerminal(OrderStatusCancelled) {
		t.Fatal("completed and cancelled must be terminal")
	}
	for _, status := range []OrderStatus{OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady} {
		if IsTerminal(status) {
			t.Errorf("%s must not be terminal", status)
		}
	}
}

func TestLineItemNormalizeTotal(t *testing.T) {
	explicit := LineItem{Qty: 3, UnitPrice: 100, LineTotal: 250}
	if got := explicit.NormalizeTotal(); got != 250 {
		t.Fatalf("explicit total = %d, want 250", got)
	}

	derived := LineItem{Qty: 3, UnitPrice: 100}
	if got := derived.NormalizeTotal(); got != 300 {
		t.Fatalf("derived total = %d, want 300", got)
	}
}

func TestTotalPaidReconciliation(t *testing.T) {
	order := NormalizedOrder{
		Revenue: 1000,
		Items: []LineItem{
			{Qty: 2, UnitPrice: 300, LineTotal: 600},
			{Qty: 1, UnitPrice: 500, LineTotal: 500},
		},
	}
	// Line arithmetic exceeds the captured amount; the larger figure wins.
	if got := order.TotalPaid(); got != 1100 {
		t.Fatalf("total paid = %d, want 1100", got)
	}

	order.Revenue = 1200
	if got := order.TotalPaid(); got != 1200 {
		t.Fatalf("total paid = %d, want 1200", got)
	}
}

func TestEstimateCost(t *testing.T) {
	cases := []struct {
		revenue int64
		want    int64
	}{
		{revenue: 1000, want: 600},
		{revenue: 999, want: 599},
		{revenue: 1, want: 1},
		{revenue: 0, want: 0},
	}
	for _, tc := range cases {
		if got := EstimateCost(tc.revenue); got != tc.want {
			t.Errorf("EstimateCost(%d) = %d, want %d", tc.revenue, got, tc.want)
		}
	}
}
