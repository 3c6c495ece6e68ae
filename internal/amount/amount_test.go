package amount

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNew_RejectsNegativeAndFractional(t *testing.T) {
	tests := []decimal.Decimal{
		decimal.NewFromInt(-1),
		decimal.NewFromFloat(1.5),
		decimal.RequireFromString("0.0001"),
	}
	for _, d := range tests {
		if _, err := New(d); !errors.Is(err, ErrInvalid) {
			t.Errorf("New(%s): expected ErrInvalid, got %v", d, err)
		}
	}
}

func TestNew_AcceptsIntegralDecimal(t *testing.T) {
	a, err := New(decimal.RequireFromString("100.000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.String() != "100" {
		t.Errorf("expected 100, got %s", a)
	}
}

func TestParse(t *testing.T) {
	a, err := Parse("170141183460469231731687303715884105727")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Equal(Max) {
		t.Errorf("expected Max, got %s", a)
	}

	if _, err := Parse("170141183460469231731687303715884105728"); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow above Max, got %v", err)
	}
	if _, err := Parse("ten"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for garbage, got %v", err)
	}
}

func TestParse_HugeExponentFailsFast(t *testing.T) {
	tests := []string{"1e40", "1e2000000", "1e20000000", "12345e2147483000"}
	for _, in := range tests {
		start := time.Now()
		if _, err := Parse(in); !errors.Is(err, ErrOverflow) {
			t.Errorf("Parse(%q): expected ErrOverflow, got %v", in, err)
		}
		var a Amount
		if err := json.Unmarshal([]byte(`"`+in+`"`), &a); !errors.Is(err, ErrOverflow) {
			t.Errorf("Unmarshal(%q): expected ErrOverflow, got %v", in, err)
		}
		if d := time.Since(start); d > 50*time.Millisecond {
			t.Errorf("Parse(%q) took %s", in, d)
		}
	}

	if _, err := Parse("1e-20000000"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for tiny fraction, got %v", err)
	}
	a, err := Parse("17e37")
	if err != nil {
		t.Fatalf("17e37 is within range: %v", err)
	}
	if got := a.String(); len(got) != 39 {
		t.Errorf("expected a 39-digit value, got %s", got)
	}
}

func TestAdd(t *testing.T) {
	sum, err := Add(MustFromInt64(50), MustFromInt64(70))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sum.Equal(MustFromInt64(120)) {
		t.Errorf("expected 120, got %s", sum)
	}
}

func TestAdd_OverflowFailsLoudly(t *testing.T) {
	if _, err := Add(Max, MustFromInt64(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
	sum, err := Add(Max, Zero)
	if err != nil {
		t.Fatalf("Max + 0 should not overflow: %v", err)
	}
	if !sum.Equal(Max) {
		t.Errorf("expected Max, got %s", sum)
	}
}

func TestSub_NegativeIsInvalid(t *testing.T) {
	if _, err := Sub(MustFromInt64(1), MustFromInt64(2)); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	diff, err := Sub(MustFromInt64(400), MustFromInt64(399))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !diff.Equal(MustFromInt64(1)) {
		t.Errorf("expected 1, got %s", diff)
	}
}

func TestSum(t *testing.T) {
	s, err := Sum(MustFromInt64(1), MustFromInt64(2), MustFromInt64(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Equal(MustFromInt64(6)) {
		t.Errorf("expected 6, got %s", s)
	}
	if _, err := Sum(Max, Max); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDivFloor(t *testing.T) {
	tests := []struct {
		a, b, c, want int64
	}{
		{100, 400, 100, 400},
		{1, 10, 3, 3},
		{2, 10, 3, 6},
		{0, 10, 3, 0},
	}
	for _, tt := range tests {
		got, err := MulDivFloor(MustFromInt64(tt.a), MustFromInt64(tt.b), MustFromInt64(tt.c))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(MustFromInt64(tt.want)) {
			t.Errorf("floor(%d*%d/%d): expected %d, got %s", tt.a, tt.b, tt.c, tt.want, got)
		}
	}
}

func TestMulDivFloor_LargeIntermediate(t *testing.T) {
	// Max * Max overflows 128 bits but the quotient fits.
	got, err := MulDivFloor(Max, Max, Max)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(Max) {
		t.Errorf("expected Max, got %s", got)
	}
}

func TestMulDivFloor_Errors(t *testing.T) {
	if _, err := MulDivFloor(MustFromInt64(1), MustFromInt64(1), Zero); !errors.Is(err, ErrDivisionByZero) {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
	if _, err := MulDivFloor(Max, MustFromInt64(2), MustFromInt64(1)); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(MustFromInt64(300))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"300"` {
		t.Errorf("expected quoted string, got %s", data)
	}

	var a Amount
	if err := json.Unmarshal([]byte(`250`), &a); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if !a.Equal(MustFromInt64(250)) {
		t.Errorf("expected 250, got %s", a)
	}
	if err := json.Unmarshal([]byte(`"-5"`), &a); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for negative, got %v", err)
	}
}

func TestZeroValue(t *testing.T) {
	var a Amount
	if !a.IsZero() || a.IsPositive() {
		t.Error("zero value should be zero")
	}
	if a.String() != "0" {
		t.Errorf("expected 0, got %s", a)
	}
}
