package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           avatard API
// @version         1.0
// @description     HTTP API for real-time digital-human session streaming and one-shot video generation.
//
// @contact.name   avatard maintainers
// @contact.url    https://github.com/your-org/avatard
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
