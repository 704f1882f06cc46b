package semantics

func account(desc string, prefixes ...string) Term {
	return Term{Category: CategoryAccount, Filter: Filter{AccountPrefixes: prefixes}, Description: desc}
}

func accountName(desc string, names ...string) Term {
	return Term{Category: CategoryAccountName, Filter: Filter{AccountNames: names}, Description: desc}
}

func compound(desc string, prefixes []string, names ...string) Term {
	return Term{Category: CategoryCompound, Filter: Filter{AccountPrefixes: prefixes, AccountNames: names}, Description: desc}
}

func txnType(desc string, types ...string) Term {
	return Term{Category: CategoryTransactionType, Filter: Filter{TransactionTypes: types}, Description: desc}
}

func subsidiary(desc string, names ...string) Term {
	return Term{Category: CategorySubsidiary, Filter: Filter{Subsidiaries: names}, Description: desc}
}

func ambiguous(desc string, opts ...Option) Term {
	return Term{Category: CategoryAmbiguous, Description: desc, Options: opts}
}

func alias(phrases []string, t Term) map[string]Term {
	out := make(map[string]Term, len(phrases))
	for _, p := range phrases {
		out[p] = t
	}
	return out
}

var (
	cogsOptions = []Option{
		{Key: "account", Label: "COGS accounts (51xxx account numbers)",
			Description: "Cost of goods sold accounts, account numbers starting with 51",
			Filter:      Filter{AccountPrefixes: []string{"51"}}},
		{Key: "department", Label: "Cost of Sales departments",
			Description: "Spending by the Cost of Sales department hierarchy",
			Filter:      Filter{Departments: []string{"Cost of Sales"}}},
	}

	rdOptions = []Option{
		{Key: "account", Label: "R&D accounts (52xxx account numbers)",
			Description: "Research and development accounts, account numbers starting with 52",
			Filter:      Filter{AccountPrefixes: []string{"52"}}},
		{Key: "department", Label: "R&D departments",
			Description: "Spending by the R&D department hierarchy",
			Filter:      Filter{Departments: []string{"R&D"}}},
		{Key: "both", Label: "Both (R&D accounts in R&D departments)",
			Description: "Accounts starting with 52 booked to R&D departments",
			Filter:      Filter{AccountPrefixes: []string{"52"}, Departments: []string{"R&D"}}},
	}

	gaOptions = []Option{
		{Key: "account", Label: "G&A accounts (59xxx account numbers)",
			Description: "General and administrative accounts, account numbers starting with 59",
			Filter:      Filter{AccountPrefixes: []string{"59"}}},
		{Key: "department", Label: "G&A departments",
			Description: "Spending by the G&A department hierarchy",
			Filter:      Filter{Departments: []string{"G&A"}}},
		{Key: "both", Label: "Both (G&A accounts in G&A departments)",
			Description: "Accounts starting with 59 booked to G&A departments",
			Filter:      Filter{AccountPrefixes: []string{"59"}, Departments: []string{"G&A"}}},
	}

	salesOptions = []Option{
		{Key: "account", Label: "Sales revenue",
			Description: "Revenue accounts, account numbers starting with 4",
			Filter:      Filter{AccountPrefixes: []string{"4"}}},
		{Key: "department", Label: "Sales department spending",
			Description: "Spending by the Sales department hierarchy",
			Filter:      Filter{Departments: []string{"Sales"}}},
	}
)

func buildTable() map[string]Term {
	groups := []map[string]Term{
		// account families by number prefix
		alias([]string{"revenue", "revenues", "sales revenue", "income"},
			account("Revenue accounts (account numbers starting with 4)", "4")),
		alias([]string{"operating expenses", "opex", "operating costs", "expenses", "expense", "spend", "spending", "costs"},
			account("Operating expense accounts (account numbers starting with 5)", "5")),
		alias([]string{"sales and marketing", "sales & marketing", "s&m"},
			account("Sales and marketing accounts (account numbers starting with 53)", "53")),
		alias([]string{"depreciation", "amortization", "depreciation and amortization", "depreciation & amortization", "d&a"},
			account("Depreciation and amortization accounts (account numbers starting with 598)", "598")),
		alias([]string{"interest", "interest expense", "interest income"},
			account("Interest accounts (account numbers starting with 6)", "6")),
		alias([]string{"income tax", "other expenses", "other income"},
			account("Other income, expense and tax accounts (account numbers starting with 7 or 8)", "7", "8")),
		alias([]string{"all expenses", "all expense"},
			account("All expense accounts (account numbers starting with 5 through 8)", "5", "6", "7", "8")),
		alias([]string{"assets", "asset"}, account("Asset accounts (account numbers starting with 1)", "1")),
		alias([]string{"liabilities", "liability"}, account("Liability accounts (account numbers starting with 2)", "2")),
		alias([]string{"equity"}, account("Equity accounts (account numbers starting with 3)", "3")),

		// account families by name
		alias([]string{"salary", "salaries"}, accountName("Salary accounts", "Salary", "Salaries")),
		alias([]string{"payroll"}, accountName("Payroll accounts", "Payroll")),
		alias([]string{"compensation"}, accountName("Compensation accounts", "Compensation")),
		alias([]string{"benefits", "employee benefits"}, accountName("Benefit accounts", "Benefits", "Benefit")),
		alias([]string{"rent", "rent expense"}, accountName("Rent and lease accounts", "Rent", "Lease")),
		alias([]string{"utilities", "utilities expense"}, accountName("Utility accounts", "Utilities", "Utility")),
		alias([]string{"software", "software expense", "saas", "subscriptions"},
			accountName("Software and subscription accounts", "Software", "SaaS", "Subscription")),
		alias([]string{"travel", "travel expense"}, accountName("Travel accounts", "Travel", "T&E")),
		alias([]string{"travel and entertainment", "t&e"},
			accountName("Travel and entertainment accounts", "Travel", "T&E", "Entertainment")),
		alias([]string{"insurance"}, accountName("Insurance accounts", "Insurance")),
		alias([]string{"professional services"},
			accountName("Professional services accounts", "Professional Services", "Consulting", "Legal")),
		alias([]string{"consulting"}, accountName("Consulting accounts", "Consulting", "Professional Services")),
		alias([]string{"legal"}, accountName("Legal accounts", "Legal", "Professional Services")),

		// compound: number prefix and name
		alias([]string{
			"sales and marketing cost", "sales and marketing costs", "sales & marketing cost", "sales & marketing costs",
			"sales and marketing expense", "sales and marketing expenses", "sales & marketing expense", "sales & marketing expenses",
			"s&m cost", "s&m costs", "s&m spend", "s&m spending", "s&m expense", "s&m expenses",
		}, compound("Sales and marketing expense (53xxx accounts named Sales & Marketing)", []string{"53"}, "Sales & Marketing")),
		alias([]string{"product development cost", "product development costs", "product development expense", "product development expenses"},
			compound("Product development expense (52xxx accounts named Product Development)", []string{"52"}, "Product Development")),
		alias([]string{"r&d cost", "r&d costs", "r&d expense", "r&d expenses"},
			compound("R&D expense (52xxx accounts)", []string{"52"}, "Product Development", "R&D", "Research")),
		alias([]string{
			"g&a cost", "g&a costs", "g&a expense", "g&a expenses",
			"general and administrative cost", "general and administrative costs",
			"general and administrative expense", "general and administrative expenses",
		}, compound("G&A expense (59xxx accounts)", []string{"59"}, "G&A", "General & Administrative", "General and Administrative")),
		alias([]string{"cost of sales cost", "cost of sales costs"},
			compound("Cost of sales expense", []string{"5"}, "Cost of Sales")),

		// require a choice
		alias([]string{"cogs", "cost of goods sold", "cost of sales", "cos"},
			ambiguous("Could mean COGS accounts (51xxx) or Cost of Sales departments", cogsOptions...)),
		alias([]string{"r&d", "research and development", "research & development"},
			ambiguous("Could mean R&D accounts (52xxx) or R&D departments", rdOptions...)),
		alias([]string{"g&a", "general and administrative", "general & administrative"},
			ambiguous("Could mean G&A accounts (59xxx) or G&A departments", gaOptions...)),
		alias([]string{"sales"},
			ambiguous("Could mean sales revenue or Sales department spending", salesOptions...)),

		// transaction types
		alias([]string{"journal entries", "journal entry", "journals"}, txnType("Journal entries", "Journal")),
		alias([]string{"invoices", "customer invoices"}, txnType("Customer invoices", "CustInvc")),
		alias([]string{"bills", "vendor bills"}, txnType("Vendor bills", "VendBill")),
		alias([]string{"payments"}, txnType("Customer and vendor payments", "CustPymt", "VendPymt")),
		alias([]string{"expense reports"}, txnType("Expense reports", "ExpRept")),

		// subsidiaries and regions
		alias([]string{"us", "us subsidiary", "united states"}, subsidiary("US subsidiary", "US", "United States", "USA", "America")),
		alias([]string{"uk", "uk subsidiary", "united kingdom"}, subsidiary("UK subsidiary", "UK", "United Kingdom", "Britain", "GB")),
		alias([]string{"europe"}, subsidiary("European subsidiaries", "Europe", "EU", "EMEA")),
		alias([]string{"emea"}, subsidiary("EMEA subsidiaries", "EMEA", "Europe")),
		alias([]string{"apac", "asia pacific"}, subsidiary("APAC subsidiaries", "APAC", "Asia Pacific", "Asia")),
		alias([]string{"canada"}, subsidiary("Canadian subsidiary", "Canada", "Canadian")),
		alias([]string{"australia"}, subsidiary("Australian subsidiary", "Australia", "Australian")),
		alias([]string{"germany"}, subsidiary("German subsidiary", "Germany", "German")),
		alias([]string{"france"}, subsidiary("French subsidiary", "France", "French")),
		alias([]string{"parent company"}, subsidiary("Parent company", "Parent", "HQ", "Headquarters", "Corporate")),
		{"consolidated": {Category: CategorySubsidiary, Filter: Filter{Consolidated: true}, Description: "All subsidiaries consolidated"}},
	}

	table := make(map[string]Term)
	for _, g := range groups {
		for phrase, t := range g {
			t.Phrase = phrase
			t.Confidence = 1.0
			table[phrase] = t
		}
	}
	return table
}
