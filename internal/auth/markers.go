package auth

// Markers bundles every selector and text fragment the login flow depends
// on. Site markup drifts over time, so all of it is injectable; the state
// machine itself never hard-codes a selector.
type Markers struct {
	LoginURL          string
	VerifyURL         string // authenticated-only page used to probe a restored session
	VerifyURLFragment string // must appear in the URL after the verification navigation

	ContinueWithEmail string
	AuthFrame         string // iframe hosting the credential form, "" if none
	EmailInput        string
	PasswordInput     string
	ContinueButton    string
	TextCodeButton    string
	CodeInput         string
	SubmitCodeButton  string

	// Checked in priority order; first match wins.
	SuccessURLFragments    []string
	AuthenticatedSelectors []string
	LoginFormSelectors     []string

	// Error-message fragments searched in page and iframe text after a
	// credential submission.
	ErrorTexts []string
}

func DefaultMarkers() Markers {
	return Markers{
		LoginURL:          "https://turo.com/ca/en/login",
		VerifyURL:         "https://turo.com/ca/en/trips/booked",
		VerifyURLFragment: "trips",

		ContinueWithEmail: `button[data-testid="continue-with-email"]`,
		AuthFrame:         `iframe[title="Log in"]`,
		EmailInput:        `input[type="email"][name="email"], #email`,
		PasswordInput:     `input[type="password"][name="password"], #password`,
		ContinueButton:    `button[type="submit"]`,
		TextCodeButton:    `button.buttonSchumi--purple`,
		CodeInput:         `#challengeCode`,
		SubmitCodeButton:  `button[data-testid="submit-code"]`,

		SuccessURLFragments: []string{
			"/dashboard",
			"/trips/booked",
			"/trips",
			"/account",
			"/profile",
		},
		AuthenticatedSelectors: []string{
			`[data-testid="user-menu"]`,
			`.user-menu`,
			`.account-menu`,
			`[aria-label*="Account"]`,
			`.avatar`,
			`.user-avatar`,
		},
		LoginFormSelectors: []string{
			`input[type="email"]`,
			`input[name="email"]`,
			`#email`,
			`.login-form`,
			`[data-testid="login-form"]`,
		},
		ErrorTexts: []string{
			"incorrect email or password",
			"we couldn't find an account",
			"too many attempts",
			"something went wrong",
			"invalid credentials",
		},
	}
}
