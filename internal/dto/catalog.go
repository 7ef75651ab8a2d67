package dto

// CreateSubjectRequest creates a subject in the catalog.
type CreateSubjectRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Code    string `json:"code" validate:"required,max=16"`
	Credits int    `json:"credits" validate:"required,min=1,max=20"`
	Area    string `json:"area" validate:"max=64"`
}

// UpdateSubjectRequest updates a subject.
type UpdateSubjectRequest struct {
	Name    string `json:"name" validate:"required,max=128"`
	Code    string `json:"code" validate:"required,max=16"`
	Credits int    `json:"credits" validate:"required,min=1,max=20"`
	Area    string `json:"area" validate:"max=64"`
}

// CreateGroupRequest creates a group offering of a subject.
type CreateGroupRequest struct {
	Name        string `json:"name" validate:"required,max=32"`
	SubjectID   string `json:"subject_id" validate:"required,uuid4"`
	Semester    int    `json:"semester" validate:"required,min=1,max=12"`
	MaxCapacity int    `json:"max_capacity" validate:"required,min=1,max=500"`
}

// UpdateGroupRequest updates a group offering.
type UpdateGroupRequest struct {
	Name        string `json:"name" validate:"required,max=32"`
	SubjectID   string `json:"subject_id" validate:"required,uuid4"`
	Semester    int    `json:"semester" validate:"required,min=1,max=12"`
	MaxCapacity int    `json:"max_capacity" validate:"required,min=1,max=500"`
}

// CreateClassroomRequest registers a physical room.
type CreateClassroomRequest struct {
	Building  string `json:"building" validate:"required,max=32"`
	Number    string `json:"number" validate:"required,max=16"`
	Capacity  int    `json:"capacity" validate:"required,min=1,max=1000"`
	Resources string `json:"resources" validate:"max=256"`
}

// UpdateClassroomRequest updates a room.
type UpdateClassroomRequest struct {
	Building  string `json:"building" validate:"required,max=32"`
	Number    string `json:"number" validate:"required,max=16"`
	Capacity  int    `json:"capacity" validate:"required,min=1,max=1000"`
	Resources string `json:"resources" validate:"max=256"`
	State     string `json:"state" validate:"required,oneof=AVAILABLE UNAVAILABLE"`
}
