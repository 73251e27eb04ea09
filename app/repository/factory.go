package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// NewRepositories builds the full repository set for a DB handle
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:      NewUserRepository(db),
		Child:     NewChildRepository(db),
		Session:   NewSessionRepository(db),
		Run:       NewRunRepository(db),
		Prewarm:   NewPrewarmRepository(db),
		Pause:     NewPauseRepository(db),
		Challenge: NewChallengeRepository(db),
		Payment:   NewPaymentRepository(db),
		Pattern:   NewPatternRepository(db),
	}
}

var (
	globalFactory     *Factory
	globalFactoryOnce sync.Once
)

// InitGlobalFactory wires the process-wide factory used by middleware and
// background workers.
func InitGlobalFactory(db *gorm.DB) {
	globalFactoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the process-wide factory. InitGlobalFactory must
// run first (main does this after database setup).
func GetGlobalFactory() *Factory {
	return globalFactory
}
