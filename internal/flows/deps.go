package flows

// Deps groups flow dependency sets. The root engine builds this once and
// delegates request methods to the matching flow implementation.
type Deps struct {
	Create        CreateDeps
	Refresh       RefreshDeps
	Validate      ValidateDeps
	Terminate     TerminateDeps
	Activity      ActivityDeps
	Switch        SwitchDeps
	Introspection IntrospectionDeps
}
