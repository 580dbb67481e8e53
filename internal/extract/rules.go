package extract

// ContextPenalty lowers the score of a candidate when any of its words
// appears within the context window around the digits.
type ContextPenalty struct {
	Tag     string   `mapstructure:"tag" json:"tag"`
	Words   []string `mapstructure:"words" json:"words"`
	Penalty int      `mapstructure:"penalty" json:"penalty"`
}

// Rules is the tunable rule and scoring table used by the Extractor.
type Rules struct {
	// Keywords express verification intent. A keyword directly followed by
	// a digit run produces a tier A candidate.
	Keywords []string `mapstructure:"keywords" json:"keywords"`
	// VerificationWords are looser hints used for tier B proximity and
	// tier C acceptance.
	VerificationWords []string `mapstructure:"verification_words" json:"verification_words"`
	// Denylist holds codes that are never reported as bare digit runs.
	Denylist []string `mapstructure:"denylist" json:"denylist"`

	MinDigits     int `mapstructure:"min_digits" json:"min_digits"`
	MaxDigits     int `mapstructure:"max_digits" json:"max_digits"`
	Proximity     int `mapstructure:"proximity" json:"proximity"`
	ContextWindow int `mapstructure:"context_window" json:"context_window"`
	MinScore      int `mapstructure:"min_score" json:"min_score"`

	BaseScore     int `mapstructure:"base_score" json:"base_score"`
	LengthBonus   int `mapstructure:"length_bonus" json:"length_bonus"`
	TierABonus    int `mapstructure:"tier_a_bonus" json:"tier_a_bonus"`
	TierBBonus    int `mapstructure:"tier_b_bonus" json:"tier_b_bonus"`
	TierCBonus    int `mapstructure:"tier_c_bonus" json:"tier_c_bonus"`
	RepeatPenalty int `mapstructure:"repeat_penalty" json:"repeat_penalty"`

	ContextPenalties []ContextPenalty `mapstructure:"context_penalties" json:"context_penalties"`
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		Keywords: []string{
			"verification code", "verify code", "validation code",
			"one-time code", "one time code", "one-time passcode", "one-time password",
			"otp", "passcode", "access code", "security code", "login code",
			"log-in code", "sign-in code", "sign in code", "confirmation code",
			"authentication code", "auth code", "your code",
		},
		VerificationWords: []string{
			"verification", "verify", "verifying", "code", "otp", "passcode",
			"one-time", "login", "log in", "sign in", "sign-in", "authenticate",
			"authentication", "confirm", "confirmation", "security", "2fa", "mfa",
		},
		Denylist:      []string{"1234", "12345", "0000", "9999"},
		MinDigits:     4,
		MaxDigits:     8,
		Proximity:     50,
		ContextWindow: 30,
		MinScore:      30,
		BaseScore:     50,
		LengthBonus:   20,
		TierABonus:    30,
		TierBBonus:    15,
		TierCBonus:    -10,
		RepeatPenalty: 20,
		ContextPenalties: []ContextPenalty{
			{Tag: "phone", Penalty: 30, Words: []string{"phone", "tel", "call", "mobile", "fax", "sms to", "dial"}},
			{Tag: "date", Penalty: 25, Words: []string{"date", "dated", "born", "birthday", "year", "jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}},
			{Tag: "order", Penalty: 25, Words: []string{"order", "invoice", "receipt", "tracking", "reference", "ref", "ticket", "account number", "customer id"}},
			{Tag: "price", Penalty: 30, Words: []string{"$", "€", "£", "¥", "usd", "eur", "price", "total", "amount", "balance"}},
			{Tag: "address", Penalty: 40, Words: []string{"street", "st.", "avenue", "ave", "suite", "zip", "postal", "postcode"}},
			{Tag: "promo", Penalty: 40, Words: []string{"discount", "promo", "promotion", "coupon", "voucher", "gift card", "offer", "checkout"}},
		},
	}
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	if len(r.Keywords) == 0 {
		r.Keywords = def.Keywords
	}
	if len(r.VerificationWords) == 0 {
		r.VerificationWords = def.VerificationWords
	}
	if r.MinDigits <= 0 {
		r.MinDigits = def.MinDigits
	}
	if r.MaxDigits <= 0 {
		r.MaxDigits = def.MaxDigits
	}
	if r.Proximity <= 0 {
		r.Proximity = def.Proximity
	}
	if r.ContextWindow <= 0 {
		r.ContextWindow = def.ContextWindow
	}
	if r.BaseScore == 0 {
		r.BaseScore = def.BaseScore
	}
	return r
}
