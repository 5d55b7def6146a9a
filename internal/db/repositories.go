package db

// Repositories provides access to all database repositories
type Repositories struct {
	Channels    *ChannelRepository
	Collections *CollectionRepository
	Media       *MediaRepository
}

// NewRepositories creates a new repository collection
func NewRepositories(db *DB) *Repositories {
	return &Repositories{
		Channels:    NewChannelRepository(db),
		Collections: NewCollectionRepository(db),
		Media:       NewMediaRepository(db),
	}
}
