package entity

import (
	"github.com/unkn0wn-root/tabkeep/codec"
)

// Schema versions. Bump when a stored shape changes incompatibly.
const (
	drinksVersion     byte = 1
	budgetVersion     byte = 1
	profileVersion    byte = 1
	settingsVersion   byte = 1
	plansVersion      byte = 1
	assessmentVersion byte = 1
	tokenVersion      byte = 1
)

// MaxValueBytes caps a single stored payload on decode.
const MaxValueBytes = 4 << 20

// Codecs holds the tagged codec of every stored kind. Lists are stored as one
// value per user.
type Codecs struct {
	Drinks     codec.Codec[[]Drink]
	Budget     codec.Codec[Budget]
	Profile    codec.Codec[UserProfile]
	Settings   codec.Codec[UserSettings]
	Plans      codec.Codec[[]PreGamePlan]
	Assessment codec.Codec[ReadinessAssessment]
	Token      codec.Codec[AuthToken]
}

// NewCodecs builds tagged codecs over the named format ("json", "cbor", "msgpack").
func NewCodecs(format string) (Codecs, error) {
	var cs Codecs
	var err error
	if cs.Drinks, err = tagged(format, KindDrinks, drinksVersion, validateList[Drink](KindDrinks)); err != nil {
		return Codecs{}, err
	}
	if cs.Budget, err = tagged(format, KindBudget, budgetVersion, Budget.Validate); err != nil {
		return Codecs{}, err
	}
	if cs.Profile, err = tagged(format, KindProfile, profileVersion, UserProfile.Validate); err != nil {
		return Codecs{}, err
	}
	if cs.Settings, err = tagged(format, KindSettings, settingsVersion, UserSettings.Validate); err != nil {
		return Codecs{}, err
	}
	if cs.Plans, err = tagged(format, KindPlans, plansVersion, validateList[PreGamePlan](KindPlans)); err != nil {
		return Codecs{}, err
	}
	if cs.Assessment, err = tagged(format, KindAssessment, assessmentVersion, ReadinessAssessment.Validate); err != nil {
		return Codecs{}, err
	}
	if cs.Token, err = tagged(format, KindAuthToken, tokenVersion, AuthToken.Validate); err != nil {
		return Codecs{}, err
	}
	return cs, nil
}

func tagged[V any](format, kind string, version byte, check func(V) error) (codec.Codec[V], error) {
	inner, err := codec.ByName[V](format)
	if err != nil {
		return nil, err
	}
	return codec.Limit[V]{
		Inner:     codec.Tagged[V]{Kind: kind, Version: version, Inner: inner, Check: check},
		MaxDecode: MaxValueBytes,
	}, nil
}

type validator interface {
	Entity
	Validate() error
}

func validateList[T validator](kind string) func([]T) error {
	return func(items []T) error {
		seen := make(map[string]struct{}, len(items))
		for _, it := range items {
			if err := it.Validate(); err != nil {
				return err
			}
			if _, dup := seen[it.EntityID()]; dup {
				return invalid(kind, "duplicate id %s", it.EntityID())
			}
			seen[it.EntityID()] = struct{}{}
		}
		return nil
	}
}
