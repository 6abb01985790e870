package webhook

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ExtractedFields holds the identity found in a lead payload via best-effort label matching.
type ExtractedFields struct {
	ExternalID string
	FirstName  string
	LastName   string
	Email      string
	Phone      string
	Value      float64
}

// Name joins the first and last name.
func (e ExtractedFields) Name() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// HasIdentity reports whether anything usable for contact matching was found.
func (e ExtractedFields) HasIdentity() bool {
	return e.ExternalID != "" || e.Email != "" || e.Phone != "" || e.FirstName != ""
}

// Identity fields a label can map to.
const (
	fieldExternalID = iota
	fieldFirstName
	fieldLastName
	fieldFullName
	fieldEmail
	fieldPhone
	fieldValue
	fieldCount
)

// labelPatterns lists the accepted labels per field, most specific first. A
// label belongs to the first field whose patterns contain it.
var labelPatterns = [fieldCount][]string{
	fieldExternalID: {"external_id", "externalid", "lead_external_id", "contact_id", "contactid", "customer_id", "customerid"},
	fieldFirstName:  {"first_name", "firstname", "first name", "primeiro_nome", "primeironome", "given_name", "givenname", "fname"},
	fieldLastName:   {"last_name", "lastname", "last name", "sobrenome", "ultimo_nome", "family_name", "familyname", "surname", "lname"},
	fieldFullName:   {"full_name", "fullname", "nome_completo", "nomecompleto", "name", "nome", "your_name", "seu_nome"},
	fieldEmail:      {"email", "e-mail", "e_mail", "emailaddress", "email_address", "mail"},
	fieldPhone:      {"phone", "phone_number", "phonenumber", "telephone", "telefone", "tel", "celular", "mobile", "fone", "whatsapp"},
	fieldValue:      {"value", "deal_value", "valor", "amount"},
}

type labelMatch struct {
	rank  int
	value string
}

// ExtractFields maps arbitrary form labels (English and Portuguese) onto identity fields.
// When several labels map to one field the most specific pattern wins, and
// equal ranks resolve by label order, so the result never depends on map order.
func ExtractFields(data map[string]string) ExtractedFields {
	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var best [fieldCount]*labelMatch
	for _, key := range keys {
		value := strings.TrimSpace(data[key])
		if value == "" {
			continue
		}
		field, rank := classifyLabel(strings.ToLower(strings.TrimSpace(key)))
		if field < 0 || !acceptsValue(field, value) {
			continue
		}
		if best[field] == nil || rank < best[field].rank {
			best[field] = &labelMatch{rank: rank, value: value}
		}
	}

	pick := func(field int) string {
		if best[field] == nil {
			return ""
		}
		return best[field].value
	}

	result := ExtractedFields{
		ExternalID: pick(fieldExternalID),
		FirstName:  pick(fieldFirstName),
		LastName:   pick(fieldLastName),
		Email:      pick(fieldEmail),
		Phone:      pick(fieldPhone),
	}
	if raw := pick(fieldValue); raw != "" {
		result.Value, _ = parseAmount(raw)
	}

	if fullName := pick(fieldFullName); result.FirstName == "" && fullName != "" {
		parts := strings.SplitN(fullName, " ", 2)
		result.FirstName = parts[0]
		if len(parts) > 1 && result.LastName == "" {
			result.LastName = strings.TrimSpace(parts[1])
		}
	}

	return result
}

// classifyLabel returns the field a label maps to and the rank of the matching
// pattern, or -1 when it maps to none.
func classifyLabel(label string) (int, int) {
	normalized := labelReplacer.Replace(label)
	for field, patterns := range labelPatterns {
		for rank, p := range patterns {
			if normalized == labelReplacer.Replace(p) {
				return field, rank
			}
		}
	}
	return -1, 0
}

func acceptsValue(field int, value string) bool {
	switch field {
	case fieldEmail:
		return emailRegex.MatchString(value)
	case fieldValue:
		_, err := parseAmount(value)
		return err == nil
	}
	return true
}

func parseAmount(value string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
}

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

var labelReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

// normalizeGoogleFieldName maps Google form column names to the labels ExtractFields knows.
func normalizeGoogleFieldName(columnName string) string {
	label := strings.ToLower(strings.TrimSpace(columnName))

	switch {
	case containsAny(label, "first", "primeiro", "given"):
		return "first_name"
	case containsAny(label, "last", "sobrenome", "surname", "family"):
		return "last_name"
	case containsAny(label, "email", "e-mail"):
		return "email"
	case containsAny(label, "phone", "telefone", "celular", "whatsapp", "mobile"):
		return "phone"
	case containsAny(label, "full name", "name", "nome"):
		return "full_name"
	default:
		return strings.TrimSpace(columnName)
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
