package audit

import "time"

// ActivityCode classifies a login attempt. Non-negative codes are successes.
type ActivityCode int

const (
	LoginSuccess        ActivityCode = 0
	LogoutSuccess       ActivityCode = 1
	UnknownUser         ActivityCode = -1
	IncorrectCredential ActivityCode = -2
	UserDisabled        ActivityCode = -3
	NoAssignedWorkspace ActivityCode = -4
	InvalidLoginMode    ActivityCode = -5
	RegistrationPending ActivityCode = -6
	UnknownError        ActivityCode = -99
)

var codeNames = map[ActivityCode]string{
	LoginSuccess:        "LOGIN_SUCCESS",
	LogoutSuccess:       "LOGOUT_SUCCESS",
	UnknownUser:         "UNKNOWN_USER",
	IncorrectCredential: "INCORRECT_CREDENTIAL",
	UserDisabled:        "USER_DISABLED",
	NoAssignedWorkspace: "NO_ASSIGNED_WORKSPACE",
	InvalidLoginMode:    "INVALID_LOGIN_MODE",
	RegistrationPending: "REGISTRATION_PENDING",
	UnknownError:        "UNKNOWN_ERROR",
}

// String returns the wire name of the code
func (c ActivityCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[UnknownError]
}

// Failed reports whether the code records a rejected attempt
func (c ActivityCode) Failed() bool {
	return c < 0
}

// Activity is one recorded login or logout attempt
type Activity struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	ActivityCode ActivityCode `json:"activityCode"`
	Message      string       `json:"message"`
	LoginMode    string       `json:"loginMode"`
	AttemptedAt  time.Time    `json:"attemptedDateTime"`
}

// Filter selects activities for listing. Zero values match everything.
type Filter struct {
	Codes     []ActivityCode
	Username  string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

// Page is one page of activities plus the total matching the filter
type Page struct {
	Data     []Activity `json:"data"`
	Total    int        `json:"count"`
	Page     int        `json:"currentPage"`
	PageSize int        `json:"pageSize"`
}
