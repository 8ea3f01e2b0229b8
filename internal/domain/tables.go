package domain

var Tables = []interface{}{
	&Session{},
	&WebhookConfig{},
}
