package config

// DefaultDenylistDomains returns domains whose engaged time is never recorded
// when tracking.use_default_denylist is on: banking, password managers,
// healthcare portals, identity providers and similar.
func DefaultDenylistDomains() []string {
	return []string{
		// Finance
		"chase.com",
		"bankofamerica.com",
		"wellsfargo.com",
		"schwab.com",
		"fidelity.com",
		"paypal.com",
		"coinbase.com",

		// Credentials
		"1password.com",
		"bitwarden.com",
		"lastpass.com",
		"accounts.google.com",
		"login.microsoftonline.com",
		"okta.com",

		// Health
		"mychart.com",
		"healthcare.gov",

		// Government & tax
		"irs.gov",
		"login.gov",
	}
}
