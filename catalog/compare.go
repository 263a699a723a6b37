// catalog/compare.go
package catalog

// Verdict is the per-attribute outcome of comparing a guess against the secret.
type Verdict string

const (
	VerdictCorrect   Verdict = "correct"
	VerdictHigher    Verdict = "higher" // 答案比猜测更大
	VerdictLower     Verdict = "lower"
	VerdictIncorrect Verdict = "incorrect"
)

// Comparisons holds one verdict per comparable attribute.
type Comparisons struct {
	Cost       Verdict `json:"cost"`
	Rarity     Verdict `json:"rarity"`
	Tier       Verdict `json:"tier"`
	Type       Verdict `json:"type"`
	HasVariant Verdict `json:"hasVariant"`
}

// Feedback is the result of one guess against the secret.
type Feedback struct {
	Item        Item        `json:"item"`
	Comparisons Comparisons `json:"comparisons"`
	IsWin       bool        `json:"isWin"`
}

// Compare scores guessed against secret. Both items must come from the catalog.
func Compare(guessed, secret Item) Feedback {
	guessedRank, _ := guessed.Rarity.Rank()
	secretRank, _ := secret.Rarity.Rank()

	return Feedback{
		Item: guessed,
		Comparisons: Comparisons{
			Cost:       ordered(guessed.Cost, secret.Cost),
			Rarity:     ordered(guessedRank, secretRank),
			Tier:       ordered(guessed.Tier, secret.Tier),
			Type:       categorical(guessed.Type == secret.Type),
			HasVariant: categorical(guessed.HasVariant == secret.HasVariant),
		},
		IsWin: guessed.Name == secret.Name,
	}
}

// ordered points the hint toward where the answer lies.
func ordered(guessed, secret int) Verdict {
	switch {
	case guessed == secret:
		return VerdictCorrect
	case guessed < secret:
		return VerdictHigher
	default:
		return VerdictLower
	}
}

func categorical(equal bool) Verdict {
	if equal {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

// Hint unlock thresholds, compared against the current turn or attempt count.
const (
	TypeHintAt   = 3
	RarityHintAt = 6
	CostHintAt   = 10
)

// Hint discloses one attribute of the secret.
type Hint struct {
	Label string `json:"label"`
	Value any    `json:"value"`
}

// Hints recomputes the disclosed attributes from scratch for the given count.
func Hints(secret Item, count int) []Hint {
	hints := make([]Hint, 0, 3)
	if count >= TypeHintAt {
		hints = append(hints, Hint{Label: "Type", Value: secret.Type})
	}
	if count >= RarityHintAt {
		hints = append(hints, Hint{Label: "Rarity", Value: secret.Rarity})
	}
	if count >= CostHintAt {
		hints = append(hints, Hint{Label: "Cost", Value: secret.Cost})
	}
	return hints
}
