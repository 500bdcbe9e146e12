package workers

import (
	"time"

	"github.com/jrsteele09/site-attendance/internal/utils"
)

// Profile is the derived worker profile kept in the profile cache.
type Profile struct {
	WorkerID    string    `json:"workerId"`              // Backend worker identifier
	Name        string    `json:"name,omitempty"`        // Display name
	Username    string    `json:"username,omitempty"`    // Login id
	Phone       string    `json:"phone,omitempty"`       // Contact number
	CompanyName string    `json:"companyName,omitempty"` // Employing subcontractor
	JobType     string    `json:"jobType,omitempty"`     // Trade, e.g. 철근공
	SiteIDs     []string  `json:"siteIds,omitempty"`     // Sites the worker is assigned to
	FetchedAt   time.Time `json:"fetchedAt"`             // When the profile was last fetched
}

// DisplayName falls back to the login id when no name is set.
func (p *Profile) DisplayName() string {
	return utils.FirstNonEmpty(p.Name, p.Username, p.WorkerID)
}

// AssignedTo reports whether the worker is assigned to siteID. A profile without
// assignments is not restricted.
func (p *Profile) AssignedTo(siteID string) bool {
	if len(p.SiteIDs) == 0 {
		return true
	}
	for _, id := range p.SiteIDs {
		if id == siteID {
			return true
		}
	}
	return false
}

// userInfo is the payload of GET /auth/user/info.
type userInfo struct {
	ID          utils.FlexString   `json:"id"`
	WorkerID    utils.FlexString   `json:"workerId"`
	Name        string             `json:"name"`
	UserName    string             `json:"userName"`
	Username    string             `json:"username"`
	Phone       string             `json:"phone"`
	PhoneNumber string             `json:"phoneNumber"`
	CompanyName string             `json:"companyName"`
	JobType     string             `json:"jobType"`
	Sites       []utils.FlexString `json:"siteIds"`
}

func (u userInfo) profile(fallbackID string, fetchedAt time.Time) Profile {
	p := Profile{
		WorkerID:    utils.FirstNonEmpty(u.WorkerID.String(), u.ID.String(), fallbackID),
		Name:        u.Name,
		Username:    utils.FirstNonEmpty(u.Username, u.UserName),
		Phone:       utils.FirstNonEmpty(u.Phone, u.PhoneNumber),
		CompanyName: u.CompanyName,
		JobType:     u.JobType,
		FetchedAt:   fetchedAt.UTC(),
	}
	for _, s := range u.Sites {
		if id := s.String(); id != "" {
			p.SiteIDs = append(p.SiteIDs, id)
		}
	}
	return p
}
