package layer

import "testing"

func TestParseNorm(t *testing.T) {
	cases := []struct {
		in      string
		want    Norm
		wantErr bool
	}{
		{"none", NormNone, false},
		{"", NormNone, false},
		{"batch", NormBatch, false},
		{"instance", NormInstance, false},
		{"layer", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseNorm(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseNorm(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseNorm(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseNorm(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseAct(t *testing.T) {
	cases := []struct {
		in      string
		want    Act
		wantErr bool
	}{
		{"none", ActNone, false},
		{"relu", ActReLU, false},
		{"leaky_relu", ActLeakyReLU, false},
		{"prelu", ActPReLU, false},
		{"gelu", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseAct(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseAct(%q) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAct(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseAct(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestActApplyAndDerivative(t *testing.T) {
	cases := []struct {
		act       Act
		z         float64
		slope     float64
		wantValue float64
		wantDeriv float64
	}{
		{ActNone, -2, 0, -2, 1},
		{ActReLU, -2, 0, 0, 0},
		{ActReLU, 3, 0, 3, 1},
		{ActLeakyReLU, -2, 0, -0.4, 0.2},
		{ActLeakyReLU, 3, 0, 3, 1},
		{ActPReLU, -2, 0.25, -0.5, 0.25},
		{ActPReLU, 3, 0.25, 3, 1},
	}
	for _, tc := range cases {
		if got := tc.act.apply(tc.z, tc.slope); got != tc.wantValue {
			t.Errorf("%v.apply(%v) = %v, want %v", tc.act, tc.z, got, tc.wantValue)
		}
		if got := tc.act.derivative(tc.z, tc.slope); got != tc.wantDeriv {
			t.Errorf("%v.derivative(%v) = %v, want %v", tc.act, tc.z, got, tc.wantDeriv)
		}
	}
}
