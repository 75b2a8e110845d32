package safety

import (
	"testing"
)

func TestClassify_CrisisTerms(t *testing.T) {
	c := NewClassifier(nil, nil)

	tests := []string{
		"I want to kill myself",
		"sometimes I think about suicide",
		"I'd be better off dead",
		"I keep wanting to hurt myself",
		"I WANT TO DIE",
	}

	for _, text := range tests {
		if got := c.Classify(text); got != LevelCrisis {
			t.Errorf("Classify(%q) = %v, want crisis", text, got)
		}
	}
}

func TestClassify_CautionTerms(t *testing.T) {
	c := NewClassifier(nil, nil)

	tests := []string{
		"everything feels hopeless",
		"there's no point anymore",
		"I feel like nobody cares",
		"I just hate myself lately",
	}

	for _, text := range tests {
		if got := c.Classify(text); got != LevelCaution {
			t.Errorf("Classify(%q) = %v, want caution", text, got)
		}
	}
}

func TestClassify_SafeText(t *testing.T) {
	c := NewClassifier(nil, nil)

	tests := []string{
		"I had a nice walk today",
		"work was stressful but okay",
		"",
		"can you play some music?",
	}

	for _, text := range tests {
		if got := c.Classify(text); got != LevelSafe {
			t.Errorf("Classify(%q) = %v, want safe", text, got)
		}
	}
}

func TestClassify_CrisisOutranksCaution(t *testing.T) {
	c := NewClassifier(nil, nil)

	// Text matching both tiers must classify as crisis.
	text := "I feel hopeless and want to end my life"
	if got := c.Classify(text); got != LevelCrisis {
		t.Errorf("Classify(%q) = %v, want crisis", text, got)
	}
}

func TestClassify_CustomTerms(t *testing.T) {
	c := NewClassifier([]string{"red alert"}, []string{"uneasy"})

	if got := c.Classify("this is a red alert"); got != LevelCrisis {
		t.Errorf("expected crisis for custom term, got %v", got)
	}
	if got := c.Classify("feeling uneasy"); got != LevelCaution {
		t.Errorf("expected caution for custom term, got %v", got)
	}
	// Default terms must not apply when custom lists are supplied.
	if got := c.Classify("suicide"); got != LevelSafe {
		t.Errorf("expected safe with custom terms, got %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"safe", LevelSafe},
		{"caution", LevelCaution},
		{"crisis", LevelCrisis},
		{"CRISIS", LevelCrisis},
		{" caution ", LevelCaution},
		{"unknown", LevelSafe},
		{"", LevelSafe},
		{"severe", LevelSafe},
	}

	for _, tc := range tests {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestStricter(t *testing.T) {
	tests := []struct {
		a, b, want Level
	}{
		{LevelSafe, LevelSafe, LevelSafe},
		{LevelSafe, LevelCaution, LevelCaution},
		{LevelCaution, LevelSafe, LevelCaution},
		{LevelCaution, LevelCrisis, LevelCrisis},
		{LevelCrisis, LevelSafe, LevelCrisis},
		{LevelCrisis, LevelCrisis, LevelCrisis},
	}

	for _, tc := range tests {
		if got := Stricter(tc.a, tc.b); got != tc.want {
			t.Errorf("Stricter(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
