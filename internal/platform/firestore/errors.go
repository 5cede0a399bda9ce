package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openshop/api/internal/repositories"
)

// classifiers map gRPC codes onto the repository error kinds the services branch on.
var classifiers = map[codes.Code]func(op string, err error) error{
	codes.NotFound:           repositories.NewNotFoundError,
	codes.AlreadyExists:      repositories.NewConflictError,
	codes.FailedPrecondition: repositories.NewConflictError,
	codes.Aborted:            repositories.NewConflictError,
	codes.Unavailable:        repositories.NewUnavailableError,
	codes.ResourceExhausted:  repositories.NewUnavailableError,
	codes.Internal:           repositories.NewUnavailableError,
	codes.DeadlineExceeded:   repositories.NewUnavailableError,
}

// WrapError turns a Firestore error into a repository error tagged with op. Context errors and
// errors that are already repository errors are returned as they are.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}

	code := status.Code(err)
	if code == codes.Canceled {
		return context.Canceled
	}
	if classify, ok := classifiers[code]; ok {
		return classify(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func IsNotFound(err error) bool {
	return status.Code(err) == codes.NotFound || repositories.IsNotFound(err)
}
