// internal/notify/templates.go
package notify

type messageTemplate struct {
	Subject string
	Body    string
}

var templates = map[string]messageTemplate{
	TemplateBackInStock: {
		Subject: "{{productName}} is back in stock",
		Body:    "Good news! {{productName}}{{variantSuffix}} is available again. Grab it before it sells out.",
	},
	TemplateCartRecovery: {
		Subject: "You left something in your cart",
		Body:    "Your cart is still waiting for you ({{itemCount}} items). This is reminder {{emailNumber}} of {{maxEmails}}.",
	},
	TemplateLowStock: {
		Subject: "Low stock: {{productName}}",
		Body:    "{{productName}}{{variantSuffix}} is down to {{stockQuantity}} units (threshold {{threshold}}).",
	},
	TemplateOutOfStock: {
		Subject: "Out of stock: {{productName}}",
		Body:    "{{productName}}{{variantSuffix}} is out of stock.",
	},
}
