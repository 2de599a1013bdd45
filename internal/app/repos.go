package app

import (
	"github.com/videolens/videolens-backend/internal/db"
	"github.com/videolens/videolens-backend/internal/logger"
	"github.com/videolens/videolens-backend/internal/repos"
)

type Repos struct {
	Videos   repos.VideoRepo
	Tasks    repos.TaskRepo
	Runs     repos.RunRepo
	Policies repos.SelectionPolicyRepo
}

func wireRepos(dbs *db.Service, log *logger.Logger) Repos {
	gdb := dbs.DB()
	return Repos{
		Videos:   repos.NewVideoRepo(gdb, log),
		Tasks:    repos.NewTaskRepo(gdb, dbs.Dialect() == db.DialectPostgres, log),
		Runs:     repos.NewRunRepo(gdb, log),
		Policies: repos.NewSelectionPolicyRepo(gdb, log),
	}
}
