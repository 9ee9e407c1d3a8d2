package model

import (
	"fmt"
	"strings"
	"unicode"
)

// Exchange suffixes used in canonical symbols.
const (
	ExchangeSH = "SH"
	ExchangeSZ = "SZ"
	ExchangeBJ = "BJ"
	ExchangeHK = "HK"
	ExchangeUS = "US"
)

// Symbol is a parsed instrument identifier.
type Symbol struct {
	Code     string `json:"code"`
	Exchange string `json:"exchange"`
	Market   Market `json:"market"`
}

// String returns the canonical form: 600519.SH, 00700.HK or AAPL.
func (s Symbol) String() string {
	if s.Market == US {
		return s.Code
	}
	return s.Code + "." + s.Exchange
}

// ParseSymbol normalizes the spellings users and providers use for the same instrument.
func ParseSymbol(raw string) (Symbol, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return Symbol{}, fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}

	// sh.600519 / sh600519
	for _, ex := range []string{ExchangeSH, ExchangeSZ, ExchangeBJ} {
		rest, ok := strings.CutPrefix(s, ex)
		if !ok {
			continue
		}
		rest = strings.TrimPrefix(rest, ".")
		if isDigits(rest) && len(rest) == 6 {
			return Symbol{Code: rest, Exchange: ex, Market: AShare}, nil
		}
	}

	if code, suffix, ok := strings.Cut(s, "."); ok && isDigits(code) {
		switch suffix {
		case ExchangeSH, ExchangeSZ, ExchangeBJ:
			if len(code) != 6 {
				break
			}
			return Symbol{Code: code, Exchange: suffix, Market: AShare}, nil
		case ExchangeHK:
			return hkSymbol(raw, code)
		}
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}

	if isDigits(s) {
		if len(s) == 6 {
			ex, err := inferAShareExchange(s)
			if err != nil {
				return Symbol{}, err
			}
			return Symbol{Code: s, Exchange: ex, Market: AShare}, nil
		}
		return hkSymbol(raw, s)
	}

	s = strings.TrimSuffix(s, ".US")
	if isTicker(s) {
		return Symbol{Code: s, Exchange: ExchangeUS, Market: US}, nil
	}
	return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
}

// MustParseSymbol is for tests and static tables.
func MustParseSymbol(raw string) Symbol {
	s, err := ParseSymbol(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func hkSymbol(raw, code string) (Symbol, error) {
	if len(code) == 0 || len(code) > 5 {
		return Symbol{}, fmt.Errorf("%w: %q", ErrInvalidSymbol, raw)
	}
	return Symbol{Code: strings.Repeat("0", 5-len(code)) + code, Exchange: ExchangeHK, Market: HK}, nil
}

func inferAShareExchange(code string) (string, error) {
	switch code[0] {
	case '6', '9':
		return ExchangeSH, nil
	case '0', '2', '3':
		return ExchangeSZ, nil
	case '4', '8':
		return ExchangeBJ, nil
	}
	return "", fmt.Errorf("%w: unknown A-share prefix %q", ErrInvalidSymbol, code)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isTicker(s string) bool {
	if len(s) == 0 || len(s) > 10 || !unicode.IsLetter(rune(s[0])) {
		return false
	}
	for _, r := range s {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}
