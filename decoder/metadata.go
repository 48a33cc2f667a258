package decoder

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Mismatch records one metadata field that contradicts the decoded bytes.
type Mismatch struct {
	Field    string `json:"field"`
	Metadata string `json:"metadata"`
	Actual   string `json:"actual"`
}

// MetadataValidation is the outcome of checking coordinator-supplied
// annotations against the decoded transaction.
type MetadataValidation struct {
	Warnings   []string   `json:"warnings,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
	Valid      bool       `json:"valid"`
}

// urgencyPatterns flag social-engineering language in metadata values.
var urgencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\burgent\b`),
	regexp.MustCompile(`(?i)\bimmediately\b`),
	regexp.MustCompile(`(?i)\basap\b`),
	regexp.MustCompile(`(?i)\bhurry\b`),
	regexp.MustCompile(`(?i)\bquickly\b`),
	regexp.MustCompile(`(?i)\bnow\b`),
	regexp.MustCompile(`(?i)\bemergency\b`),
}

// typeAliases maps human metadata type labels to decoded type tags.
var typeAliases = map[string]string{
	"hbar transfer":     "transfer",
	"transfer":          "transfer",
	"token transfer":    "transfer",
	"contract call":     "contract-execute",
	"contract execute":  "contract-execute",
	"contract-execute":  "contract-execute",
	"contract create":   "contract-create",
	"contract-create":   "contract-create",
	"account create":    "account-create",
	"account-create":    "account-create",
	"account update":    "account-update",
	"account-update":    "account-update",
	"account delete":    "account-delete",
	"account-delete":    "account-delete",
	"token associate":   "token-associate",
	"token-associate":   "token-associate",
	"token mint":        "token-mint",
	"token-mint":        "token-mint",
	"topic create":      "topic-create",
	"topic-create":      "topic-create",
	"topic submit":      "topic-submit",
	"topic-submit":      "topic-submit",
	"file create":       "file-create",
	"file-create":       "file-create",
	"file append":       "file-append",
	"file-append":       "file-append",
	"schedule create":   "schedule-create",
	"schedule-create":   "schedule-create",
	"schedule sign":     "schedule-sign",
	"schedule-sign":     "schedule-sign",
}

const amountTolerance = 1e-4

// ValidateMetadata checks the coordinator's annotations against the decoded
// truth. Metadata is advisory and always flagged unverified when broadcast;
// this validation exists so the coordinator gets told, loudly, when its
// annotations contradict the bytes.
func ValidateMetadata(dt *DecodedTransaction, metadata map[string]string) *MetadataValidation {
	mv := &MetadataValidation{}

	for key, value := range metadata {
		for _, pattern := range urgencyPatterns {
			if pattern.MatchString(value) {
				mv.Warnings = append(mv.Warnings,
					fmt.Sprintf("metadata field %q contains urgency language: %q", key, value))
				break
			}
		}
	}

	if claimed, ok := metadata["type"]; ok {
		if !typeMatches(claimed, dt.Type) {
			mv.Mismatches = append(mv.Mismatches, Mismatch{
				Field:    "type",
				Metadata: claimed,
				Actual:   dt.Type,
			})
		}
	}

	if claimed, ok := metadata["amount"]; ok {
		if actual, found := largestTransferAmount(dt); found {
			if !amountMatches(claimed, actual) {
				mv.Mismatches = append(mv.Mismatches, Mismatch{
					Field:    "amount",
					Metadata: claimed,
					Actual:   strconv.FormatInt(actual, 10),
				})
			}
		}
	}

	if claimed, ok := metadata["accounts"]; ok {
		decoded := decodedAccounts(dt)
		if missing := missingAccounts(claimed, decoded); len(missing) > 0 {
			mv.Mismatches = append(mv.Mismatches, Mismatch{
				Field:    "accounts",
				Metadata: claimed,
				Actual:   strings.Join(decoded, ","),
			})
		}
	}

	if claimed, ok := metadata["function_name"]; ok && dt.ContractCall != nil {
		if !strings.EqualFold(strings.TrimSpace(claimed), dt.ContractCall.FunctionName) {
			mv.Mismatches = append(mv.Mismatches, Mismatch{
				Field:    "function_name",
				Metadata: claimed,
				Actual:   dt.ContractCall.FunctionName,
			})
		}
	}

	mv.Valid = len(mv.Mismatches) == 0
	return mv
}

func typeMatches(claimed, actual string) bool {
	c := strings.ToLower(strings.TrimSpace(claimed))
	if mapped, ok := typeAliases[c]; ok {
		return mapped == actual
	}
	return c == actual
}

// amountMatches compares value-wise: every non-numeric character is stripped
// and absolute values are compared within a small tolerance, so "10 hbar" and
// "-10.0" both match a decoded amount of 10.
func amountMatches(claimed string, actual int64) bool {
	parsed, ok := parseNumeric(claimed)
	if !ok {
		return false
	}
	return math.Abs(math.Abs(parsed)-math.Abs(float64(actual))) < amountTolerance
}

func parseNumeric(s string) (float64, bool) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// largestTransferAmount picks the largest-magnitude leg of a transfer as the
// headline amount the metadata is expected to describe.
func largestTransferAmount(dt *DecodedTransaction) (int64, bool) {
	if len(dt.Transfers) == 0 {
		return 0, false
	}
	var best int64
	for _, tr := range dt.Transfers {
		if abs64(tr.Amount) > abs64(best) {
			best = tr.Amount
		}
	}
	return best, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func decodedAccounts(dt *DecodedTransaction) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, tr := range dt.Transfers {
		add(tr.AccountID)
	}
	if dt.AccountUpdate != nil {
		add(dt.AccountUpdate.AccountID)
	}
	if dt.AccountDelete != nil {
		add(dt.AccountDelete.AccountID)
		add(dt.AccountDelete.TransferAccountID)
	}
	if dt.TokenAssociate != nil {
		add(dt.TokenAssociate.AccountID)
	}
	if dt.ContractCall != nil {
		add(dt.ContractCall.ContractID)
	}
	return out
}

// missingAccounts returns metadata-named accounts absent from the decoded
// set. All metadata accounts must appear among the decoded accounts.
func missingAccounts(claimed string, decoded []string) []string {
	decodedSet := make(map[string]bool, len(decoded))
	for _, id := range decoded {
		decodedSet[id] = true
	}
	var missing []string
	for _, id := range strings.Split(claimed, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !decodedSet[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
