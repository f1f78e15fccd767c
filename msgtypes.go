package sshmux

// SSH connection-protocol message numbers, RFC 4254.
const (
	MsgGlobalRequest          = 80
	MsgRequestSuccess         = 81
	MsgRequestFailure         = 82
	MsgChannelOpen            = 90
	MsgChannelOpenConfirm     = 91
	MsgChannelOpenFailure     = 92
	MsgChannelWindowAdjust    = 93
	MsgChannelData            = 94
	MsgChannelExtendedData    = 95
	MsgChannelEOF             = 96
	MsgChannelClose           = 97
	MsgChannelRequest         = 98
	MsgChannelSuccess         = 99
	MsgChannelFailure         = 100
)

// Channel-open failure reason codes, RFC 4254 §5.1.
const (
	OpenAdministrativelyProhibited = 1
	OpenConnectFailed              = 2
	OpenUnknownChannelType         = 3
	OpenResourceShortage           = 4
)

// ExtendedDataStderr is the one standardized extended-data type code.
const ExtendedDataStderr = 1
