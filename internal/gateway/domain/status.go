package domain

// PaymentStatus is the internal payment state every provider vocabulary maps into.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentProcessing PaymentStatus = "PROCESSING"
	PaymentCompleted  PaymentStatus = "COMPLETED"
	PaymentFailed     PaymentStatus = "FAILED"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

// SubscriptionStatus is the internal subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "ACTIVE"
	SubscriptionCanceled   SubscriptionStatus = "CANCELED"
	SubscriptionPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionIncomplete SubscriptionStatus = "INCOMPLETE"
)

const (
	CycleMonthly = "monthly"
	CycleYearly  = "yearly"
)
