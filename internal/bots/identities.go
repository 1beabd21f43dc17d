// internal/bots/identities.go
package bots

import (
	"github.com/google/uuid"

	"github.com/stolik-gg/stolik/internal/match"
	"github.com/stolik-gg/stolik/internal/models"
)

// Identity is a stable bot user. Ids are fixed so bot seats survive process
// restarts and every frontend resolves the same roster.
type Identity struct {
	ID            uuid.UUID
	DisplayName   string
	Avatar        string
	GameType      models.GameType
	Mode          int
	PrefersRanked bool
}

// DefaultRoster is the built-in bot roster covering both games.
func DefaultRoster() []Identity {
	return []Identity{
		{ID: uuid.MustParse("8f2a1c40-0001-4d7e-9e11-b60b1c5e0a01"), DisplayName: "Basia", Avatar: "bot-1", GameType: models.GameSixtySix, Mode: 2},
		{ID: uuid.MustParse("8f2a1c40-0002-4d7e-9e11-b60b1c5e0a02"), DisplayName: "Czesiek", Avatar: "bot-2", GameType: models.GameSixtySix, Mode: 4},
		{ID: uuid.MustParse("8f2a1c40-0003-4d7e-9e11-b60b1c5e0a03"), DisplayName: "Dorota", Avatar: "bot-3", GameType: models.GameSixtySix, Mode: 4},
		{ID: uuid.MustParse("8f2a1c40-0004-4d7e-9e11-b60b1c5e0a04"), DisplayName: "Edek", Avatar: "bot-4", GameType: models.GameSixtySix, Mode: 4},
		{ID: uuid.MustParse("8f2a1c40-0005-4d7e-9e11-b60b1c5e0a05"), DisplayName: "Felka", Avatar: "bot-5", GameType: models.GameSixtySix, Mode: 4},
		{ID: uuid.MustParse("8f2a1c40-0006-4d7e-9e11-b60b1c5e0a06"), DisplayName: "Gienek", Avatar: "bot-6", GameType: models.GameThousand, Mode: 3},
		{ID: uuid.MustParse("8f2a1c40-0007-4d7e-9e11-b60b1c5e0a07"), DisplayName: "Hela", Avatar: "bot-7", GameType: models.GameThousand, Mode: 3},
		{ID: uuid.MustParse("8f2a1c40-0008-4d7e-9e11-b60b1c5e0a08"), DisplayName: "Irek", Avatar: "bot-8", GameType: models.GameThousand, Mode: 3},
	}
}

// Directory resolves bot ids for the runtime's AddBot validation.
type Directory struct {
	byID map[uuid.UUID]Identity
}

// NewDirectory indexes a roster.
func NewDirectory(roster []Identity) *Directory {
	d := &Directory{byID: make(map[uuid.UUID]Identity, len(roster))}
	for _, ident := range roster {
		d.byID[ident.ID] = ident
	}
	return d
}

// Lookup implements the runtime's bot lookup hook.
func (d *Directory) Lookup(id uuid.UUID) (match.BotIdentity, bool) {
	ident, ok := d.byID[id]
	if !ok {
		return match.BotIdentity{}, false
	}
	return match.BotIdentity{ID: ident.ID, DisplayName: ident.DisplayName, Avatar: ident.Avatar}, true
}
