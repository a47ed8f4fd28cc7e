package services

import (
	"errors"

	"github.com/asakaida/puroteusu/internal/entities"
	"github.com/asakaida/puroteusu/internal/repositories"
)

// isNotFound matches both the repository sentinel and the typed service
// error, so helpers work on either side of the translation boundary.
func isNotFound(err error) bool {
	if errors.Is(err, repositories.ErrNotFound) {
		return true
	}
	var nf *entities.NotFoundError
	return errors.As(err, &nf)
}
