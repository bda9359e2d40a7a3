package email

const (
	subjectManualMatchFmt = "Manual match required for contact %s"
)
