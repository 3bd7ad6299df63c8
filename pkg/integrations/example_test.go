package integrations_test

import (
	"fmt"

	"github.com/matzehuels/apm/pkg/integrations"
)

func ExampleEscapePackageName() {
	fmt.Println(integrations.EscapePackageName("bar"))
	fmt.Println(integrations.EscapePackageName("@scope/bar"))
	// Output:
	// bar
	// @scope%2Fbar
}

func ExampleJoinURL() {
	fmt.Println(integrations.JoinURL("https://registry.npmjs.org/", "bar"))
	fmt.Println(integrations.JoinURL("http://localhost:4873", "/@scope%2Fbar"))
	// Output:
	// https://registry.npmjs.org/bar
	// http://localhost:4873/@scope%2Fbar
}
