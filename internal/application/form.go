package application

import (
	"strconv"
	"strings"
	"time"
)

// Well-known form answer keys. Any other key is kept as submitted.
const (
	FieldFirstName          = "firstName"
	FieldAge                = "age"
	FieldAvailability       = "availability"
	FieldExperience         = "experience"
	FieldMotivation         = "motivation"
	FieldCharacterFirstName = "characterFirstName"
	FieldCharacterLastName  = "characterLastName"
	FieldCharacterAge       = "characterAge"
	FieldCharacterOrigin    = "characterOrigin"
	FieldQualities          = "qualities"
	FieldFlaws              = "flaws"
	FieldBackstory          = "backstory"
	FieldGoals              = "goals"
)

// publicFields are the answers exposed on the public roster.
var publicFields = []string{
	FieldCharacterFirstName,
	FieldCharacterLastName,
	FieldCharacterAge,
	FieldCharacterOrigin,
	FieldQualities,
	FieldFlaws,
	FieldBackstory,
	FieldGoals,
}

// CharacterName joins the character first and last name.
func (a *Application) CharacterName() string {
	return strings.TrimSpace(a.Field(FieldCharacterFirstName) + " " + a.Field(FieldCharacterLastName))
}

// Member is the public-safe projection of a whitelisted application.
type Member struct {
	CandidateID   string            `json:"candidateId"`
	DisplayName   string            `json:"displayName"`
	AvatarURL     string            `json:"avatarUrl,omitempty"`
	Character     map[string]string `json:"character"`
	WhitelistedAt *time.Time        `json:"whitelistedAt,omitempty"`
}

// ToMember projects an application to its public roster entry.
func (a *Application) ToMember() Member {
	character := make(map[string]string, len(publicFields))
	for _, key := range publicFields {
		if v := a.Field(key); v != "" {
			character[key] = v
		}
	}
	return Member{
		CandidateID:   a.CandidateID,
		DisplayName:   a.Profile.DisplayName,
		AvatarURL:     a.Profile.AvatarURL,
		Character:     character,
		WhitelistedAt: a.WhitelistedAt,
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}
