package registry

// ABI fragments for the contracts that plan steps call.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	// PaymentContractABI covers permission grants and recurring payment
	// schedules. A schedule id is emitted as the first indexed topic of
	// PaymentScheduleCreated.
	PaymentContractABI = `[
		{"name":"grantPermissions","type":"function","stateMutability":"nonpayable","inputs":[{"name":"maxAmountPerPayment","type":"uint256"},{"name":"maxTotalAmount","type":"uint256"},{"name":"validDays","type":"uint256"}],"outputs":[]},
		{"name":"createPaymentSchedule","type":"function","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"amountPerPayment","type":"uint256"},{"name":"interval","type":"uint256"},{"name":"maxExecutions","type":"uint256"}],"outputs":[{"name":"scheduleId","type":"uint256"}]},
		{"name":"PaymentScheduleCreated","type":"event","anonymous":false,"inputs":[{"name":"scheduleId","type":"uint256","indexed":true},{"name":"payer","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true}]}
	]`

	RentToOwnABI = `[
		{"name":"createRentToOwnSchedule","type":"function","stateMutability":"nonpayable","inputs":[{"name":"tenant","type":"address"},{"name":"landlord","type":"address"},{"name":"propertyShareToken","type":"address"},{"name":"monthlyRent","type":"uint256"},{"name":"targetOwnershipBps","type":"uint256"},{"name":"targetMonths","type":"uint256"}],"outputs":[{"name":"scheduleId","type":"uint256"}]}
	]`

	SwapPoolABI = `[
		{"name":"swapUSDCToETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"usdcAmount","type":"uint256"}],"outputs":[{"name":"ethOut","type":"uint256"}]}
	]`

	// PropertyTreasuryABI records an investment and pulls the approved USDC.
	PropertyTreasuryABI = `[
		{"name":"invest","type":"function","stateMutability":"nonpayable","inputs":[{"name":"propertyId","type":"string"},{"name":"amount","type":"uint256"}],"outputs":[]}
	]`
)

const PaymentScheduleCreatedEvent = "PaymentScheduleCreated"
