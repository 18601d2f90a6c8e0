package main

import "dogu/internal/dogu"

func main() {
	dogu.Main()
}
