package blockflow

import "testing"

func TestNodeResult_Valid(t *testing.T) {
	tests := []struct {
		name string
		res  *NodeResult
		want bool
	}{
		{"nil result", nil, false},
		{"empty status", &NodeResult{}, false},
		{"unknown status", &NodeResult{Status: "MAYBE"}, false},
		{"ok", OKResult("SUCCESS", "", nil), true},
		{"fail", FailResult("NOPE", ""), true},
		{"error", ErrorResult("BOOM", ""), true},
		{"stopped", StoppedResult(CodeSoftStop), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNodeResult_StatusToken(t *testing.T) {
	if got := FailResult("X", "").StatusToken(); got != "fail" {
		t.Errorf("StatusToken() = %q, want fail", got)
	}
	if got := OKResult("X", "", nil).StatusToken(); got != "ok" {
		t.Errorf("StatusToken() = %q, want ok", got)
	}
}
