package connectors

import "fmt"

// SmartAPIErrorCodes maps SmartAPI errorcode values to human-readable messages.
var SmartAPIErrorCodes = map[string]string{
	"AG8001": "Invalid Token",
	"AG8002": "Token Expired",
	"AG8003": "Token missing",
	"AB8050": "Invalid Refresh Token",
	"AB8051": "Refresh Token Expired",
	"AB1000": "Invalid Email Or Password",
	"AB1001": "Invalid Email",
	"AB1002": "Invalid Password Length",
	"AB1003": "Client Already Exists",
	"AB1004": "Something Went Wrong, Please Try After Sometime",
	"AB1005": "User Type Must Be USER",
	"AB1006": "Client Is Block For Trading",
	"AB1007": "AMX Error",
	"AB1008": "Invalid Order Variety",
	"AB1009": "Symbol Not Found",
	"AB1010": "AMX Session Expired",
	"AB1011": "Client not login",
	"AB1012": "Invalid Product Type",
	"AB1013": "Order not found",
	"AB1014": "Trade not found",
	"AB1015": "Holding not found",
	"AB1016": "Position not found",
	"AB1017": "Position conversion failed",
	"AB1018": "Failed to get symbol details",
	"AB1031": "Old Password Mismatch",
	"AB1032": "User Not Found",
	"AB2000": "Error not specified",
	"AB2001": "Internal Error, Please try after sometime",
	"AB2002": "ROBO order is block",
	"AB4008": "ordertag length should be less than 20 characters",
}

// sessionErrorCodes are the codes after which the session tokens are no longer usable.
var sessionErrorCodes = map[string]bool{
	"AG8001": true,
	"AG8002": true,
	"AG8003": true,
	"AB1010": true,
	"AB1011": true,
}

// GetErrorMsg returns a human-readable message for a given SmartAPI error code.
// If the code is unknown, returns a generic message including the code.
func GetErrorMsg(code string) string {
	if msg, ok := SmartAPIErrorCodes[code]; ok {
		return msg
	}
	return fmt.Sprintf("UNKNOWN_SMARTAPI_ERROR_%s", code)
}

// IsSessionError reports whether code means the caller must log in again.
func IsSessionError(code string) bool {
	return sessionErrorCodes[code]
}
