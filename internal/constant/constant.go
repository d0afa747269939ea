package constant

const (
	DevelopmentEnvironment = "development"
	ProductionEnvironment  = "production"
)

const (
	OrderOutcomeStreamName       = "rsa_orders"
	OrderOutcomeStreamSubjectAll = "rsa_orders.*"
	OrderOutcomeStreamSubject    = "rsa_orders.outcome"
)
