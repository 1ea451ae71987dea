package directory

import (
	"context"
	"log/slog"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"job-chat-service/internal/mocks"
	"job-chat-service/internal/models"
	"job-chat-service/internal/repositories"
)

var chatJ1 = models.Chat{ID: 1, JobID: "J1", ParticipantA: "U1", ParticipantB: "U2"}

func newDirectory() (*Directory, *mocks.ChatRepositoryMock) {
	repo := new(mocks.ChatRepositoryMock)
	return New(repo, logs.GetLoggerFromLevel(slog.LevelDebug)), repo
}

func TestResolveExistingChat(t *testing.T) {
	dir, repo := newDirectory()
	repo.On("FindChatByJob", mock.Anything, "J1").Return(chatJ1, nil).Twice()

	chat, err := dir.Resolve(context.Background(), "J1", "U2", "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.ID)

	chat, err = dir.Resolve(context.Background(), "J1", "U1", "U2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.ID)
	repo.AssertExpectations(t)
}

func TestResolveCreatesLazily(t *testing.T) {
	dir, repo := newDirectory()
	repo.On("FindChatByJob", mock.Anything, "J1").Return(nil, repositories.ErrChatNotFound).Once()
	repo.On("CreateChat", mock.Anything, "J1", "U1", "U2").Return(chatJ1, nil).Once()

	chat, err := dir.Resolve(context.Background(), "J1", "U1", "U2")
	require.NoError(t, err)
	assert.Equal(t, chatJ1, chat)
	repo.AssertExpectations(t)
}

func TestResolveErrors(t *testing.T) {
	cases := []struct {
		name    string
		actor   string
		peer    string
		found   error
		wantErr error
	}{
		{name: "outsider", actor: "U3", peer: "", wantErr: repositories.ErrNotParticipant},
		{name: "peer mismatch", actor: "U1", peer: "U3", wantErr: repositories.ErrParticipantMismatch},
		{name: "missing without peer", actor: "U1", peer: "", found: repositories.ErrChatNotFound, wantErr: repositories.ErrChatNotFound},
		{name: "store failure", actor: "U1", peer: "U2", found: assert.AnError, wantErr: assert.AnError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir, repo := newDirectory()
			if tc.found != nil {
				repo.On("FindChatByJob", mock.Anything, "J1").Return(nil, tc.found).Once()
			} else {
				repo.On("FindChatByJob", mock.Anything, "J1").Return(chatJ1, nil).Once()
			}

			_, err := dir.Resolve(context.Background(), "J1", tc.actor, tc.peer)
			assert.ErrorIs(t, err, tc.wantErr)
			repo.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestResolveRequiresIDs(t *testing.T) {
	dir, repo := newDirectory()

	_, err := dir.Resolve(context.Background(), "", "U1", "U2")
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)
	_, err = dir.Resolve(context.Background(), "J1", "", "U2")
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)
	repo.AssertNotCalled(t, "FindChatByJob", mock.Anything, mock.Anything)
}

func TestLookup(t *testing.T) {
	dir, repo := newDirectory()
	repo.On("FindChatByJob", mock.Anything, "J1").Return(chatJ1, nil).Once()

	chat, err := dir.Lookup(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.ID)
	repo.AssertExpectations(t)
}
