package dto

// CreateChangeRequestRequest submits a proposal to move one of the
// requesting teacher's slots. OriginalDay pins which weekly meeting of
// the group the proposal targets.
type CreateChangeRequestRequest struct {
	GroupID       string `json:"group_id" validate:"required,uuid4"`
	OriginalDay   int    `json:"original_day" validate:"min=0,max=5"`
	ProposedDay   int    `json:"proposed_day" validate:"min=0,max=5"`
	ProposedStart string `json:"proposed_start" validate:"required"`
	ProposedEnd   string `json:"proposed_end" validate:"required"`
	Reason        string `json:"reason" validate:"required,max=500"`
}
