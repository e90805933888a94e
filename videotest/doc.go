// Package videotest runs provider exercises as ordinary Go tests.
//
// A Harness wraps *testing.T and a provider factory. Each case runs as a
// subtest via Harness.Run and receives a fresh, initialized provider
// wrapped in a VisitCase, which records every call in an operation trace
// and offers assertions on rooms, recordings, and typed errors.
//
// Example usage:
//
//	func TestAttorneyCall(t *testing.T) {
//	    h := videotest.New(t, videotest.WithProvider("daily"))
//	    h.Run("protected", func(vc *videotest.VisitCase) {
//	        room := vc.CreateRoom(video.RoomOptions{Security: protected})
//	        _, err := vc.StartRecording(room.ID, video.RecordingOptions{})
//	        vc.AssertErrorKind(err, video.KindSecurityPolicy)
//	    })
//	}
package videotest
