package validation

import (
	"strings"
	"testing"
)

type sample struct {
	Email    string `validate:"required,email"`
	Count    int    `validate:"min=0"`
	Password string `validate:"min=2,max=24"`
}

func TestValidateStruct(t *testing.T) {
	if err := ValidateStruct(sample{Email: "a@b.test", Count: 1, Password: "pw"}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}

	err := ValidateStruct(sample{Email: "", Count: -1, Password: "x"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"Email is required", "Count must be at least 0", "Password must be at least 2"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}
