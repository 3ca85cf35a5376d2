package domain

type User struct {
	ID    string `db:"id" json:"id"`
	Email string `db:"email" json:"email"`
	Name  string `db:"name" json:"name"`
	Hash  string `db:"password_hash" json:"-"`
}

// Actor is the caller of a core operation. System marks internal jobs
// (sweeps, cascades) that act without a user session.
type Actor struct {
	ID      string
	IsAdmin bool
	System  bool
}

const SystemActorID = "system"

func SystemActor() Actor { return Actor{ID: SystemActorID, IsAdmin: true, System: true} }
