package question

import "strings"

// universalTemplates is the fixed set asked of every site, in emission
// order. [BRAND] is substituted with the site's brand name.
var universalTemplates = [15]string{
	"What does [BRAND] do?",
	"What products or services does [BRAND] offer?",
	"How much does [BRAND] cost?",
	"Who is [BRAND] for?",
	"How do I get started with [BRAND]?",
	"How do I contact [BRAND]?",
	"Where is [BRAND] located?",
	"Is [BRAND] legitimate and trustworthy?",
	"What makes [BRAND] different from competitors?",
	"What is [BRAND]'s refund or cancellation policy?",
	"Does [BRAND] offer customer support?",
	"What do customers say about [BRAND]?",
	"How long has [BRAND] been in business?",
	"Does [BRAND] offer a free trial or demo?",
	"How does [BRAND] protect customer data?",
}

// Substitute replaces the [BRAND] placeholder in a template.
func Substitute(template, brand string) string {
	return strings.ReplaceAll(template, "[BRAND]", brand)
}

// adaptiveTemplates extends the set per business model, applied only when
// classification confidence clears the configured threshold.
var adaptiveTemplates = map[string][]string{
	"saas": {
		"What plans does [BRAND] offer?",
		"Does [BRAND] have an API?",
		"What does [BRAND] integrate with?",
		"Can I cancel my [BRAND] subscription at any time?",
		"Does [BRAND] offer an enterprise plan?",
	},
	"ecommerce": {
		"How long does [BRAND] take to ship?",
		"What is [BRAND]'s return policy?",
		"What payment methods does [BRAND] accept?",
		"Does [BRAND] ship internationally?",
		"How do I track my [BRAND] order?",
	},
	"services": {
		"What areas does [BRAND] serve?",
		"How do I get a quote from [BRAND]?",
		"How do I book an appointment with [BRAND]?",
		"Is [BRAND] licensed and insured?",
		"How quickly can [BRAND] start?",
	},
}
