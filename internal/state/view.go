package state

// View is the render-facing state of a player. It is published after every
// tick and read without taking the simulation lock, so readers may observe a
// frame that is one tick stale.
type View struct {
	Handle      Handle  `json:"id" msgpack:"id"`
	Name        string  `json:"name" msgpack:"name"`
	X           float64 `json:"x" msgpack:"x"`
	Y           float64 `json:"y" msgpack:"y"`
	Orientation float64 `json:"orientation" msgpack:"z"`
	Health      float64 `json:"health" msgpack:"hp"`
	Team        uint8   `json:"team" msgpack:"team"`
	Stealth     bool    `json:"stealth" msgpack:"stealth"`
	Dead        bool    `json:"dead" msgpack:"dead"`
}

// Publish captures the current state for lock-free readers. Call it while
// holding whatever lock guards the player's mutations.
func (p *Player) Publish() {
	v := &View{
		Handle:      p.handle,
		Name:        p.name,
		X:           p.interp.X(),
		Y:           p.interp.Y(),
		Orientation: p.z,
		Health:      p.health,
		Team:        p.team,
		Stealth:     p.stealth,
		Dead:        p.IsDead(),
	}
	p.view.Store(v)
}

// View returns the last published state.
func (p *Player) View() View {
	if v := p.view.Load(); v != nil {
		return *v
	}
	return View{Handle: p.handle}
}
