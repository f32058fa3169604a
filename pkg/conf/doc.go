/*
Package conf extends the builtin 'flag' package to provide:
- environment variable parsing with the AXION_ prefix,
- config dump generation for reproducing a sweep,
- ability to extract current values of all registered flags,
- additional flag types, e.g. SliceFlag and IntListFlag,
- predefined flags for logging (logrus integration).
*/
package conf
