package email

const (
	subjectDealStageChangedFmt = "Deal moved to %s: %s"
	subjectDealAssignedFmt     = "New deal assigned: %s"
)
