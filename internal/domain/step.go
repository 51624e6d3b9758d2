package domain

// Step is a state of the naming conversation.
type Step string

const (
	StepWelcome                   Step = "welcome"
	StepCollectingSubjectInfo     Step = "collectingSubjectInfo"
	StepCollectingPreference      Step = "collectingPreference"
	StepCollectingOptionalDetails Step = "collectingOptionalDetails"
	StepPresentingProfile         Step = "presentingProfile"
	StepPresentingDirections      Step = "presentingDirections"
	StepPresentingCandidate       Step = "presentingCandidate"
	StepCompleted                 Step = "completed"
)

// Valid reports whether s is one of the known steps.
func (s Step) Valid() bool {
	switch s {
	case StepWelcome, StepCollectingSubjectInfo, StepCollectingPreference,
		StepCollectingOptionalDetails, StepPresentingProfile,
		StepPresentingDirections, StepPresentingCandidate, StepCompleted:
		return true
	}
	return false
}
