/*
Package errs provides custom error types and application-level error code constants.

Codes are shared by the REST surface and the websocket protocol so a client can act on
the same number whichever path produced it.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates trailing content after the JSON document.
	ErrExtraContentInBody = 1004

	// ErrFormParseFailed indicates failure to parse multipart form data.
	ErrFormParseFailed = 1005

	// ErrRequestEntityTooLarge indicates that the request body exceeded the server limit.
	ErrRequestEntityTooLarge = 1006

	// ErrRateLimitExceeded indicates that the client exceeded its request budget.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Chat and Message Errors
const (
	// ErrChatNotFound indicates that the referenced conversation does not exist.
	ErrChatNotFound = 2101

	// ErrNotChatMember indicates that the caller is not a member of the conversation.
	ErrNotChatMember = 2102

	// ErrGroupTooSmall indicates that a group chat needs more members.
	ErrGroupTooSmall = 2103

	// ErrNotGroupAdmin indicates that only the group admin may perform the change.
	ErrNotGroupAdmin = 2104

	// ErrNotGroupChat indicates a group operation on a direct conversation.
	ErrNotGroupChat = 2105

	// ErrMessageEmpty indicates a message with neither text nor image.
	ErrMessageEmpty = 2201

	// ErrMessageContentTooLong indicates that the message text exceeded the limit.
	ErrMessageContentTooLong = 2202

	// ErrFileSizeTooLarge indicates that an upload exceeded the size limit.
	ErrFileSizeTooLarge = 2301

	// ErrFileTypeInvalid indicates an upload that is not an accepted image type.
	ErrFileTypeInvalid = 2302

	// ErrImageKeyInvalid indicates an image reference not issued by this server.
	ErrImageKeyInvalid = 2303
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof is invalid.
	ErrPowChallengeInvalid = 3002

	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3101

	// ErrAlreadyLoggedIn indicates register/login with a valid token already present.
	ErrAlreadyLoggedIn = 3102

	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = 3103

	// ErrInvalidPassword indicates a password outside the accepted length.
	ErrInvalidPassword = 3104

	// ErrUserAlreadyExists indicates the email is already registered.
	ErrUserAlreadyExists = 3105

	// ErrInvalidCredentials indicates a wrong email/password pair.
	ErrInvalidCredentials = 3106

	// ErrUserNotFound indicates that the referenced user does not exist.
	ErrUserNotFound = 3107

	// ErrInvalidName indicates an empty or oversized display name.
	ErrInvalidName = 3108
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified server error.
	ErrUnknown = 5000

	// ErrFileStorageFailed indicates the object storage rejected the operation.
	ErrFileStorageFailed = 5001

	// ErrStorageDisabled indicates uploads are not configured on this server.
	ErrStorageDisabled = 5002
)
